package constant

const (
	// HeaderUserAgent is the HTTP User-Agent header key.
	HeaderUserAgent = "User-Agent"
	// HeaderID is the request identifier header key.
	HeaderID = "X-Request-Id"
	// HeaderTraceparent is the W3C traceparent header key.
	HeaderTraceparent = "Traceparent"
	// HeaderContentType is the HTTP Content-Type header key.
	HeaderContentType = "Content-Type"
	// HeaderAccept is the HTTP Accept header key.
	HeaderAccept = "Accept"
	// Authorization is the HTTP Authorization header key.
	Authorization = "Authorization"
	// Bearer is the HTTP Bearer auth scheme token.
	Bearer = "Bearer"

	// HeaderAPIKey carries the backend service key next to Authorization.
	HeaderAPIKey = "apikey"
	// HeaderPrefer is the PostgREST preference header.
	HeaderPrefer = "Prefer"
	// PreferReturnRepresentation asks the backend to echo written rows.
	PreferReturnRepresentation = "return=representation"
	// ContentTypeJSON is the JSON media type.
	ContentTypeJSON = "application/json"
)
