/*
Package transform is the schema transformation pipeline: a registry
of named pure value functions plus a mapping engine that projects an
internal record onto a destination wire shape (or back).

Built-ins cover the common CRM munging (phone/email/date formatting,
HTML stripping, truncation, scalar coercions); callers can register
additional functions by name. Mappings declare per-field required
semantics: a missing required source fails the whole projection,
while optional fields degrade by omission.
*/
package transform
