package project

// actorLogin prefers an "@"-prefixed GraphQL login over any other actor
// identity, returning "" when there is no login. A
// bare node id is never returned as a login — callers that need a stable
// key for a login-less actor should hash the id themselves.
func actorLogin(login string) string {
	if login == "" {
		return ""
	}
	return "@" + login
}
