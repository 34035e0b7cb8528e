package autherrors

// Error codes for the bounded taxonomy. Every error surfaced by the
// resolver, proxy, sync bus, or boundary carries exactly one of these.
const (
	CodeNetwork            = "NETWORK_ERROR"
	CodeTimeout            = "TIMEOUT_ERROR"
	CodeCORS               = "CORS_ERROR"
	CodeRateLimited        = "RATE_LIMITED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeComponent          = "COMPONENT_ERROR"
	CodeConfiguration      = "CONFIGURATION_ERROR"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	Steps    []string
	DocURL   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	CodeNetwork: {
		Category: CategoryNetwork,
		Message:  "Unable to reach the identity service",
		Detail:   "The request to the upstream identity service failed at the transport level before a response was received.",
		Steps: []string{
			"Check that the upstream base URL is correct and reachable from this server",
			"Verify outbound network access and DNS resolution for the identity service host",
			"Confirm the identity service is running and not behind a failing load balancer",
		},
		DocURL: "https://authrelay.dev/docs/errors/network",
	},
	CodeTimeout: {
		Category: CategoryTimeout,
		Message:  "The identity service did not respond in time",
		Detail:   "The upstream call exceeded the configured timeout. Slow upstreams are treated the same as unreachable ones.",
		Steps: []string{
			"Check the identity service's latency and load",
			"Increase the upstream timeout if the service is healthy but slow",
			"Verify no proxy between this server and the identity service is buffering requests",
		},
		DocURL: "https://authrelay.dev/docs/errors/timeout",
	},
	CodeCORS: {
		Category: CategoryCORS,
		Message:  "Cross-origin request blocked",
		Detail:   "The browser refused the request because the response lacked the required CORS headers.",
		Steps: []string{
			"Serve the auth handler from the same origin as the page",
			"If a separate origin is required, configure the handler prefix behind a same-origin proxy",
		},
		DocURL: "https://authrelay.dev/docs/errors/cors",
	},
	CodeRateLimited: {
		Category: CategoryRateLimit,
		Message:  "Too many requests to the identity service",
		Detail:   "The upstream identity service is rate limiting this project.",
		Steps: []string{
			"Reduce request volume or enable resolver caching with a longer TTL",
			"Check for loops repeatedly triggering sign-in operations",
		},
		DocURL: "https://authrelay.dev/docs/errors/rate-limited",
	},
	CodeServiceUnavailable: {
		Category: CategoryUnavailable,
		Message:  "The identity service is temporarily unavailable",
		Detail:   "The upstream returned a server error. This is usually transient.",
		Steps: []string{
			"Retry after a short delay",
			"Check the identity service's status page",
		},
		DocURL: "https://authrelay.dev/docs/errors/unavailable",
	},
	CodeInvalidCredentials: {
		Category: CategoryCredentials,
		Message:  "The identity service rejected the project credentials",
		Detail:   "The project ID, publishable client key, or secret server key was not accepted.",
		Steps: []string{
			"Verify the project ID matches the project the keys were issued for",
			"Regenerate the server key if it may have been rotated",
		},
		DocURL: "https://authrelay.dev/docs/errors/credentials",
	},
	CodeComponent: {
		Category: CategoryComponent,
		Message:  "A UI fragment failed while rendering",
		Detail:   "An uncaught rendering failure was contained by an error boundary. Sibling fragments are unaffected.",
		Steps: []string{
			"Inspect the wrapped error for the failing fragment",
			"Use Retry() once the underlying cause is fixed",
		},
		DocURL: "https://authrelay.dev/docs/errors/component",
	},
	CodeConfiguration: {
		Category: CategoryConfig,
		Message:  "Invalid authrelay configuration",
		Detail:   "A required setting is missing or malformed. Configuration errors are fatal at startup and never surfaced per-request.",
		Steps: []string{
			"Check the settings named in the error detail",
			"Compare your configuration file against the reference",
		},
		DocURL: "https://authrelay.dev/docs/errors/configuration",
	},
}
