package sessions

// Note the frontend may depend on some of these values, changing them will cause breaking changes
const (
	SessionCookieName = "_ksg_session"
	SessionCtxKey     = "ksg_session"
)
