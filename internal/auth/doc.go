// Package auth issues and checks the bearer tokens that guard the bridge
// API.
//
// The bridge has no user store. Tokens are HS256 JWTs minted offline with
// `graylogic-dali token` and carry a subject and one of three roles:
// viewer, installer or admin. Starting a commissioning run needs
// PermCommissionManage, which installer and admin hold.
package auth
