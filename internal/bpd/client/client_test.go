package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodian/internal/bpd/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/circuit"
)

const bpn = "BPNL000000000001"

const legacyBody = `{
  "bpn": "BPNL000000000001",
  "names": [{"value": "Acme GmbH", "type": {"technicalKey": "REGISTERED"}}],
  "legalForm": {"technicalKey": "GMBH", "name": "Gesellschaft mit beschraenkter Haftung"},
  "addresses": [{
    "countryCode": "DE",
    "localities": [{"value": "Berlin"}],
    "postCodes": [{"value": "10115"}],
    "thoroughfares": [{"value": "Invalidenstrasse", "number": "117"}]
  }]
}`

const poolBody = `{
  "bpnl": "BPNL000000000001",
  "legalName": "Acme GmbH",
  "legalForm": "GMBH",
  "legalAddress": {
    "physicalPostalAddress": {
      "country": {"technicalKey": "DE"},
      "city": "Berlin",
      "postalCode": "10115",
      "street": {"name": "Invalidenstrasse", "houseNumber": "117"}
    }
  }
}`

func newClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", time.Second, opts...)
	require.NoError(t, err)
	return c
}

func TestNewRejectsInvalidURL(t *testing.T) {
	_, err := New("not a url", time.Second)
	assert.Error(t, err)
	_, err = New("", time.Second)
	assert.Error(t, err)
}

func TestLegalEntity(t *testing.T) {
	want := &models.BusinessPartner{
		BPN:       bpn,
		LegalName: "Acme GmbH",
		Addresses: []models.Address{{Country: "DE", City: "Berlin", PostalCode: "10115", Street: "Invalidenstrasse 117"}},
	}

	t.Run("legacy shape", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/catena/legal-entities/"+bpn, r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			_, _ = w.Write([]byte(legacyBody))
		})

		bp, err := c.LegalEntity(context.Background(), bpn)
		require.NoError(t, err)
		expected := *want
		expected.LegalForm = "Gesellschaft mit beschraenkter Haftung"
		assert.Equal(t, &expected, bp)
	})

	t.Run("pool shape", func(t *testing.T) {
		c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(poolBody))
		})

		bp, err := c.LegalEntity(context.Background(), bpn)
		require.NoError(t, err)
		expected := *want
		expected.LegalForm = "GMBH"
		assert.Equal(t, &expected, bp)
	})
}

func TestLegalEntityErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   dErrors.Code
	}{
		{"not found", http.StatusNotFound, `{}`, dErrors.CodeNotFound},
		{"server error", http.StatusBadGateway, ``, dErrors.CodeUnavailable},
		{"throttled", http.StatusTooManyRequests, ``, dErrors.CodeUnavailable},
		{"unexpected status", http.StatusUnauthorized, ``, dErrors.CodeInternal},
		{"invalid json", http.StatusOK, `{`, dErrors.CodeInternal},
		{"missing name", http.StatusOK, `{"bpn":"BPNL000000000001"}`, dErrors.CodeInternal},
		{"other entity", http.StatusOK, `{"bpn":"BPNL000000000002","legalName":"Other"}`, dErrors.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := c.LegalEntity(context.Background(), bpn)
			require.Error(t, err)
			assert.Equal(t, tc.code, dErrors.CodeOf(err))
		})
	}
}

func TestBreakerOpensOnUpstreamFailures(t *testing.T) {
	var calls atomic.Int32
	breaker := circuit.New("bpdm", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithBreaker(breaker))

	for range 2 {
		_, err := c.LegalEntity(context.Background(), bpn)
		require.Error(t, err)
	}
	assert.Equal(t, circuit.StateOpen, breaker.State())

	_, err := c.LegalEntity(context.Background(), bpn)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.Equal(t, "business partner pool unavailable", err.Error())
	assert.Equal(t, int32(2), calls.Load())
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	breaker := circuit.New("bpdm", circuit.WithFailureThreshold(1))
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, WithBreaker(breaker))

	for range 3 {
		_, err := c.LegalEntity(context.Background(), bpn)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	}
	assert.Equal(t, circuit.StateClosed, breaker.State())
}

func TestTimeoutIsReported(t *testing.T) {
	release := make(chan struct{})
	breaker := circuit.New("bpdm", circuit.WithFailureThreshold(1))
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithBreaker(breaker))
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.LegalEntity(ctx, bpn)

	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
	assert.Equal(t, circuit.StateClosed, breaker.State())
}

func TestCancelledRequestReturnsContextError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(poolBody))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.LegalEntity(ctx, bpn)
	assert.ErrorIs(t, err, context.Canceled)
}
