// Package auth issues and checks Direct Line credentials.
//
// # Credentials
//
// When a secret is configured, client routes require one of:
//
//   - The secret itself: full access to every conversation.
//   - A token: an HS256 JWT minted from the secret and scoped to a single
//     conversation through its "conv" claim.
//
// Credentials travel as "Authorization: Bearer <value>". Stream connections
// may pass the value as the "t" query parameter instead.
//
// # Tokens
//
//	v, err := auth.NewJWTVerifier([]byte(secret))
//	token, err := v.Generate(conversationID, userID, time.Hour)
//	claims, err := v.Verify(token)
//	token, claims, err = v.Refresh(token, time.Hour)
//
// Expired tokens fail with ErrExpiredToken; everything else that does not
// verify fails with ErrInvalidToken.
package auth
