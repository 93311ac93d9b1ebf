/*
Package dispatch turns (operation kind, record) pairs into
provider-specific HTTP requests.

Each client owns one provider: its URL dialect (Salesforce and
HubSpot PATCH updates, Pipedrive and custom PUT), its auth variant
(OAuth2 with cached tokens and a single reactive re-auth on 401, API
key in the header the dialect expects, or HTTP basic), and the
transport retry envelope. Admission is checked against the shared
rate limiter once per request; a rejection surfaces immediately as
RateLimitedError so the worker can re-enqueue with backoff.
*/
package dispatch
