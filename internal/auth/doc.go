// Package auth issues and verifies guardian capability tokens.
//
// End-user authentication is outside Homeflow. The only privilege the
// engine models is the guardian path: a caller presenting a valid token in
// the X-Guardian-Token header has the token's capabilities attached to its
// device.Source, which lets the arbiter accept changes to a device's AI
// safety lock.
//
// # Usage
//
//	g, err := auth.NewGuardian(cfg.Security.Guardian.Secret, 15*time.Minute)
//	token, err := g.Issue("parent-phone", auth.CapLockOverride)
//
//	claims, err := g.Parse(token)
//	if err == nil && claims.Has(auth.CapLockOverride) {
//	    src = src.WithCapabilities(claims.Capabilities...)
//	}
package auth
