package rtc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ExchangeSDP posts the local offer to the realtime endpoint and returns
// the answer.
func ExchangeSDP(ctx context.Context, client *http.Client, endpoint, model, voice, token, offer string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", &NegotiationError{Stage: "exchange", Err: err}
	}
	q := u.Query()
	if model != "" {
		q.Set("model", model)
	}
	if voice != "" {
		q.Set("voice", voice)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(offer))
	if err != nil {
		return "", &NegotiationError{Stage: "exchange", Err: err}
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient(client).Do(req)
	if err != nil {
		return "", &NegotiationError{Stage: "exchange", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &NegotiationError{Stage: "exchange", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &NegotiationError{
			Stage:      "exchange",
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}
	if len(body) == 0 {
		return "", &NegotiationError{Stage: "exchange", Err: errors.New("empty answer")}
	}
	return string(body), nil
}
