package impactlog

import "context"

type currentPathContextKey struct{}

// WithCurrentPath attaches the view the caller is rendering to ctx. When a
// request made with ctx is answered 401, the controller uses it to decide
// whether the resulting [Invalidation] should redirect to the login view:
// public views stay where they are.
func WithCurrentPath(ctx context.Context, path string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, currentPathContextKey{}, path)
}

// CurrentPath returns the view attached by [WithCurrentPath], or "".
func CurrentPath(ctx context.Context) string {
	return currentPathFromContext(ctx)
}

func currentPathFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	path, _ := ctx.Value(currentPathContextKey{}).(string)
	return path
}
