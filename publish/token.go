package publish

import "os"

// EnvToken is the environment variable consulted when no token is given explicitly.
const EnvToken = "HF_TOKEN"

// TokenChain resolves a credential in order: explicit value, environment, none.
type TokenChain struct {
	Explicit string
	Env      string
}

// TokenFromEnv builds a chain using lookup for the environment step.
// A nil lookup means os.LookupEnv.
func TokenFromEnv(explicit string, lookup func(string) (string, bool)) TokenChain {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env, _ := lookup(EnvToken)
	return TokenChain{Explicit: explicit, Env: env}
}

func (c TokenChain) Resolve() (string, error) {
	switch {
	case c.Explicit != "":
		return c.Explicit, nil
	case c.Env != "":
		return c.Env, nil
	default:
		return "", AuthError("token", "no token found; pass --token or set "+EnvToken)
	}
}

// Source names the step the token came from, for logging. It never returns the token itself.
func (c TokenChain) Source() string {
	switch {
	case c.Explicit != "":
		return "explicit"
	case c.Env != "":
		return EnvToken
	default:
		return "none"
	}
}
