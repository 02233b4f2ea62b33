package core

// LandingState is where the startup redirect stands.
type LandingState int

const (
	LandingResolving LandingState = iota
	LandingAuthenticated
	LandingAnonymous
)

func (s LandingState) String() string {
	switch s {
	case LandingResolving:
		return "resolving"
	case LandingAuthenticated:
		return "authenticated"
	case LandingAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Navigator performs the redirect chosen by Landing.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) { f(route) }

// Landing is the one-time startup redirect. It waits for the session to
// resolve, picks a home route and navigates exactly once.
type Landing struct {
	routes LandingRoutes
	nav    Navigator
	state  LandingState
}

func NewLanding(routes LandingRoutes, nav Navigator) *Landing {
	return &Landing{routes: routes, nav: nav}
}

// Observe feeds a session snapshot. Snapshots after the first terminal
// transition are ignored.
func (l *Landing) Observe(s Session) LandingState {
	if l.state != LandingResolving || s.Loading {
		return l.state
	}
	if s.User != nil {
		l.state = LandingAuthenticated
		l.nav.Navigate(l.routes.Authenticated)
	} else {
		l.state = LandingAnonymous
		l.nav.Navigate(l.routes.Anonymous)
	}
	return l.state
}

func (l *Landing) State() LandingState {
	return l.state
}

// Route is the target of the terminal state, empty while resolving.
func (l *Landing) Route() string {
	switch l.state {
	case LandingAuthenticated:
		return l.routes.Authenticated
	case LandingAnonymous:
		return l.routes.Anonymous
	default:
		return ""
	}
}
