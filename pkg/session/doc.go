// Package session keeps an access/refresh token pair for one logged in user.
//
// A Manager persists the pair through a KV store, answers whether the session
// is authenticated, and renews the access token with an Exchanger before it
// runs out. Tokens are treated as expired five minutes ahead of their real
// expiry. Concurrent renewals collapse into one call to the Exchanger.
//
//	store := session.NewMemoryStore()
//	m := session.New(store, exchanger,
//		session.WithSessionExpiredHandler(func(error) { redirectToLogin() }),
//	)
//	stop := m.StartRefreshTimer(session.DefaultRefreshInterval)
//	defer stop()
//
//	token, err := m.EnsureValidAccessToken(ctx)
//	if session.ReloginRequired(err) {
//		// send the user back to the login entry point
//	}
package session
