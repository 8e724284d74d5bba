// Package client is the Go SDK for the civic streak ledger HTTP API.
//
// # Recording engagements
//
//	c, err := client.New("https://streaks.example.org",
//	    client.WithBearerToken(token),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := c.Initialize(ctx); err != nil && !errors.Is(err, client.ErrAlreadyExists) {
//	    log.Fatal(err)
//	}
//	res, err := c.RecordEngagement(ctx)
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && errors.Is(err, client.ErrTooSoon) {
//	    fmt.Println("come back in", apiErr.RetryAfter)
//	}
//
// # Predicting the outcome
//
// PredictEngagement runs the same engine as the server against a record the
// caller already holds. It is a prediction only: the server result returned
// by RecordEngagement is authoritative and must replace it.
//
//	pred, err := client.PredictEngagement(rec.Record, time.Now(), milestones)
//
// In development mode (no token secret configured on the server) use
// WithDevOwner to name the caller instead of a bearer token.
package client
