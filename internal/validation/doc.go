// Package validation holds repository-wide architecture tests. The layering it
// enforces:
//
//   - pkg/relational is the foundation and imports no other package in this
//     module.
//   - pkg/rules builds on pkg/relational only.
//   - pkg/backend and pkg/entity stay free of internal packages, so the public
//     API never drags a storage driver or service wiring into a consumer's
//     build.
//   - Concrete storage drivers under internal/infra/backend are reachable only
//     from internal/core and the command binaries.
//
// The checks run as ordinary tests so a violation fails CI with the offending
// import chain in the message.
package validation
