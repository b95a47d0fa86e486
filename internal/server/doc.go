// Package server exposes a replicated tuple space over HTTP.
//
// Client endpoints take and return msgpack bodies and are only served by
// the primary; any other role answers 503 so clients look the name up
// again.
//
//	POST /tuples/write      TupleRequest            → 204
//	POST /tuples/try-take   TupleRequest (template) → TupleResponse
//	POST /tuples/try-read   TupleRequest (template) → TupleResponse
//	POST /tuples/take-all   TupleRequest (template) → TuplesResponse
//	POST /tuples/read-all   TupleRequest (template) → TuplesResponse
//	POST /tuples/event      EventRequest            → EventResponse, once fired
//	POST /tuples/release    ReleaseRequest          → 204
//	POST /admin/save        PathRequest             → 204
//	POST /admin/load        PathRequest             → 204
//	POST /admin/debug       DebugRequest            → DebugResponse
//
// /replica/ is served by the replication coordinator, /health and /info
// (JSON) by every role.
//
// Errors carry a wire.ErrorBody: 400 for malformed input, 404 for an
// unknown handle, 500 for persistence failures and 503 when not primary.
package server
