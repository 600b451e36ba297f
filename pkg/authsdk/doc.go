/*
Package authsdk is the Go client for the academy auth service.

# Client and Session

Client wraps the public endpoints one call each:

	client := authsdk.NewClient("https://auth.example.com")

	user, err := client.Register(ctx, authsdk.RegisterRequest{Email: e, Username: u, Password: p})
	tokens, err := client.Login(ctx, email, password)
	tokens, err = client.Refresh(ctx, tokens.RefreshToken)
	err = client.Logout(ctx, tokens.AccessToken, tokens.RefreshToken)

Session keeps a token pair and refreshes it shortly before the access token
expires:

	session, err := client.Authenticate(ctx, email, password)
	me, err := session.Me(ctx)
	err = session.Logout(ctx)

Refresh tokens are single use. Every refresh returns a new pair and the old
pair stops working, so a Session serialises its refreshes and never shares a
refresh token between goroutines.

# Errors

Failed calls return an *APIError carrying the HTTP status and a stable code:

	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Code == authsdk.ErrorCodeInvalidToken {
		// log in again
	}

The server uses the same type to write its responses.
*/
package authsdk
