package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/signpad/api"
	"github.com/jmcleod/signpad/auth"
	"github.com/jmcleod/signpad/internal/uuid"
	"github.com/jmcleod/signpad/session"
	"github.com/jmcleod/signpad/storage/memory"
)

const padHeader = "SIGNATURE_PAD_UUID"

type testServer struct {
	*httptest.Server
	api *api.API
}

func setupServer(t *testing.T, opts ...api.Option) *testServer {
	t.Helper()
	opts = append([]api.Option{
		api.WithLogger(slog.New(slog.DiscardHandler)),
		api.WithKeyBits(1024),
	}, opts...)
	a := api.New(memory.NewRepository(), opts...)
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, api: a}
}

func (s *testServer) url(path string) string {
	return s.URL + "/api/v1" + path
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func postAssertion(t *testing.T, url, padID, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, strings.NewReader(token))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	if padID != "" {
		req.Header.Set(padHeader, padID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, body)
	}
}

// issuePad registers a pad and issues its key pair without validating it.
func issuePad(t *testing.T, s *testServer, name string) (api.PadResponse, api.KeyPairResponse) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, s.url("/pads"), api.RegisterPadRequest{Name: name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decode[api.PadResponse](t, resp)

	resp = doJSON(t, http.MethodPost, s.url("/pads/"+p.ID+"/keys"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	kp := decode[api.KeyPairResponse](t, resp)
	return p, kp
}

func pairingToken(t *testing.T, kp api.KeyPairResponse) string {
	t.Helper()
	token, err := auth.Sign(kp.PrivateJWK, &auth.Claims{
		PublicJWK:         kp.PublicJWK,
		ClientEnvironment: map[string]any{"userAgent": "test-pad", "screen": "1280x800"},
	})
	require.NoError(t, err)
	return token
}

// pairedPad registers, keys and validates a pad, returning its ID and the
// private JWK the device signs with.
func pairedPad(t *testing.T, s *testServer) (string, []byte) {
	t.Helper()
	p, kp := issuePad(t, s, "Front desk")
	resp := postAssertion(t, s.url("/signature-pad/validate"), p.ID, pairingToken(t, kp))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	validated := decode[api.PadResponse](t, resp)
	require.True(t, validated.Validated)
	return p.ID, kp.PrivateJWK
}

func signatureToken(t *testing.T, padID string, privateJWK []byte, subject, png string) string {
	t.Helper()
	token, err := auth.Sign(privateJWK, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   padID,
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		SigPNG: png,
		SigSVG: "<svg/>",
		SigPad: "Front desk",
		Name:   "Ada Lovelace",
		Mail:   "ada@example.com",
	})
	require.NoError(t, err)
	return token
}

func dialPad(t *testing.T, s *testServer, protocols ...string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	return dialPadFrom(t, s, "", protocols...)
}

// dialPadFrom dials the pad socket as a browser page served from origin.
func dialPadFrom(t *testing.T, s *testServer, origin string, protocols ...string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: protocols, HandshakeTimeout: 5 * time.Second}
	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/signature-pad/ws"
	var header http.Header
	if origin != "" {
		header = http.Header{"Origin": {origin}}
	}
	conn, resp, err := dialer.DialContext(t.Context(), wsURL, header)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func connectPad(t *testing.T, s *testServer, padID string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialPad(t, s, padHeader, padID)
	require.NoError(t, err)
	assert.Equal(t, padHeader, resp.Header.Get("Sec-WebSocket-Protocol"))
	require.Eventually(t, func() bool {
		return s.api.Sessions().CountFor(padID) == 1
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) session.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := session.ParseEvent(data)
	require.NoError(t, err)
	return ev
}

// startWait issues wait-for-response in the background and returns once
// the wait is registered.
func startWait(t *testing.T, s *testServer, padID string) <-chan api.ResponsePayload {
	t.Helper()
	ch := make(chan api.ResponsePayload, 1)
	go func() {
		req, err := http.NewRequest(http.MethodGet, s.url("/signature-pad/wait-for-response?uuid="+padID), nil)
		if err != nil {
			close(ch)
			return
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			close(ch)
			return
		}
		defer resp.Body.Close()
		var payload api.ResponsePayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			close(ch)
			return
		}
		ch <- payload
	}()
	require.Eventually(t, func() bool {
		return s.api.Engine().IsPending(padID)
	}, 2*time.Second, 5*time.Millisecond)
	return ch
}

func awaitPayload(t *testing.T, ch <-chan api.ResponsePayload) api.ResponsePayload {
	t.Helper()
	select {
	case p, ok := <-ch:
		require.True(t, ok, "wait-for-response request failed")
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("wait-for-response did not return")
		return api.ResponsePayload{}
	}
}

func TestRegisterAndListPads(t *testing.T) {
	s := setupServer(t)

	resp := doJSON(t, http.MethodPost, s.url("/pads"), api.RegisterPadRequest{Name: "  Ｆront desk "})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	p := decode[api.PadResponse](t, resp)
	assert.Equal(t, "Front desk", p.Name)
	assert.False(t, p.Validated)
	assert.Zero(t, p.KeyVersion)
	assert.Empty(t, p.KeyID)

	resp = doJSON(t, http.MethodPost, s.url("/pads"), api.RegisterPadRequest{Name: "Back office"})
	expectStatus(t, resp, http.StatusCreated)

	resp = doJSON(t, http.MethodGet, s.url("/pads"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[api.ListPadsResponse](t, resp)
	require.Len(t, list.Pads, 2)
	assert.Equal(t, p.ID, list.Pads[0].ID)
	assert.Equal(t, 2, list.TotalCount)

	resp = doJSON(t, http.MethodGet, s.url("/pads?limit=1&offset=1"), nil)
	list = decode[api.ListPadsResponse](t, resp)
	require.Len(t, list.Pads, 1)
	assert.Equal(t, "Back office", list.Pads[0].Name)
}

func TestRegisterPadRequiresName(t *testing.T) {
	s := setupServer(t)
	resp := doJSON(t, http.MethodPost, s.url("/pads"), api.RegisterPadRequest{Name: "   "})
	expectStatus(t, resp, http.StatusBadRequest)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, s.url("/pads"), strings.NewReader("{"))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestGetPadNotFound(t *testing.T) {
	s := setupServer(t)
	resp := doJSON(t, http.MethodGet, s.url("/pads/not-a-uuid"), nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = doJSON(t, http.MethodGet, s.url("/pads/6f1c1a8e-2b7e-4c52-9d0c-5f3c2f1b9a10"), nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = doJSON(t, http.MethodPost, s.url("/pads/6f1c1a8e-2b7e-4c52-9d0c-5f3c2f1b9a10/keys"), nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestIssueKeyPair(t *testing.T) {
	s := setupServer(t, api.WithBaseURL("https://pads.example.com"))
	p, kp := issuePad(t, s, "Front desk")

	assert.Equal(t, p.ID, kp.PadID)
	assert.Equal(t, 1, kp.KeyVersion)
	assert.Equal(t, p.ID+"-1", kp.KeyID)
	assert.Equal(t, "https://pads.example.com", kp.BaseURL)

	var priv map[string]any
	require.NoError(t, json.Unmarshal(kp.PrivateJWK, &priv))
	assert.Equal(t, "RSA", priv["kty"])
	assert.Equal(t, kp.KeyID, priv["kid"])
	assert.Contains(t, priv, "d")

	var pub map[string]any
	require.NoError(t, json.Unmarshal(kp.PublicJWK, &pub))
	assert.NotContains(t, pub, "d")

	// Re-issuing before validation bumps the version.
	resp := doJSON(t, http.MethodPost, s.url("/pads/"+p.ID+"/keys"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	again := decode[api.KeyPairResponse](t, resp)
	assert.Equal(t, 2, again.KeyVersion)

	resp = doJSON(t, http.MethodGet, s.url("/pads/"+p.ID), nil)
	got := decode[api.PadResponse](t, resp)
	assert.Equal(t, 2, got.KeyVersion)
	assert.Empty(t, got.PublicJWK, "pending key is not the confirmed key")
}

func TestValidatePad(t *testing.T) {
	s := setupServer(t)
	p, kp := issuePad(t, s, "Front desk")

	resp := postAssertion(t, s.url("/signature-pad/validate"), p.ID, pairingToken(t, kp))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	validated := decode[api.PadResponse](t, resp)
	assert.True(t, validated.Validated)
	assert.Equal(t, kp.KeyID, validated.KeyID)
	assert.Equal(t, "test-pad", validated.ClientEnvironment["userAgent"])
	assert.False(t, validated.ValidatedAt.IsZero())

	// Second pairing and later key issuance are refused.
	resp = postAssertion(t, s.url("/signature-pad/validate"), p.ID, pairingToken(t, kp))
	expectStatus(t, resp, http.StatusForbidden)
	resp = doJSON(t, http.MethodPost, s.url("/pads/"+p.ID+"/keys"), nil)
	expectStatus(t, resp, http.StatusForbidden)
}

func TestValidatePadRejects(t *testing.T) {
	s := setupServer(t)
	p, kp := issuePad(t, s, "Front desk")
	_, other := issuePad(t, s, "Other")

	t.Run("missing header", func(t *testing.T) {
		resp := postAssertion(t, s.url("/signature-pad/validate"), "", pairingToken(t, kp))
		expectStatus(t, resp, http.StatusUnauthorized)
	})
	t.Run("unknown pad", func(t *testing.T) {
		resp := postAssertion(t, s.url("/signature-pad/validate"), "6f1c1a8e-2b7e-4c52-9d0c-5f3c2f1b9a10", pairingToken(t, kp))
		expectStatus(t, resp, http.StatusNotFound)
	})
	t.Run("signed with another key", func(t *testing.T) {
		resp := postAssertion(t, s.url("/signature-pad/validate"), p.ID, pairingToken(t, other))
		expectStatus(t, resp, http.StatusBadRequest)
	})
	t.Run("reports a different public key", func(t *testing.T) {
		token, err := auth.Sign(kp.PrivateJWK, &auth.Claims{PublicJWK: other.PublicJWK})
		require.NoError(t, err)
		resp := postAssertion(t, s.url("/signature-pad/validate"), p.ID, token)
		expectStatus(t, resp, http.StatusBadRequest)
	})
	t.Run("no public key claim", func(t *testing.T) {
		token, err := auth.Sign(kp.PrivateJWK, &auth.Claims{})
		require.NoError(t, err)
		resp := postAssertion(t, s.url("/signature-pad/validate"), p.ID, token)
		expectStatus(t, resp, http.StatusBadRequest)
	})
	t.Run("garbage", func(t *testing.T) {
		resp := postAssertion(t, s.url("/signature-pad/validate"), p.ID, "not-a-jwt")
		expectStatus(t, resp, http.StatusBadRequest)
	})

	resp := doJSON(t, http.MethodGet, s.url("/pads/"+p.ID), nil)
	assert.False(t, decode[api.PadResponse](t, resp).Validated)
}

func TestWebSocketHandshake(t *testing.T) {
	s := setupServer(t)
	unvalidated, _ := issuePad(t, s, "Unpaired")
	padID, _ := pairedPad(t, s)

	_, resp, err := dialPad(t, s)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialPad(t, s, padHeader, "6f1c1a8e-2b7e-4c52-9d0c-5f3c2f1b9a10")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dialPad(t, s, padHeader, unvalidated.ID)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn := connectPad(t, s, padID)
	resp2 := doJSON(t, http.MethodGet, s.url("/pads/"+padID), nil)
	assert.Equal(t, 1, decode[api.PadResponse](t, resp2).Sessions)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Eventually(t, func() bool {
		return s.api.Sessions().CountFor(padID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketAcceptsCrossOriginPad(t *testing.T) {
	s := setupServer(t)
	padID, _ := pairedPad(t, s)

	conn, resp, err := dialPadFrom(t, s, "https://pad.example.com", padHeader, padID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Eventually(t, func() bool {
		return s.api.Sessions().CountFor(padID) == 1
	}, 2*time.Second, 10*time.Millisecond)

	resp = doJSON(t, http.MethodGet, s.url("/signature-pad/show?uuid="+padID+"&uid=user-42"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, session.KindShow, readEvent(t, conn).Kind)
}

func TestWebSocketOriginAllowList(t *testing.T) {
	s := setupServer(t, api.WithAllowedOrigins("https://pad.example.com/"))
	padID, _ := pairedPad(t, s)

	_, resp, err := dialPadFrom(t, s, "https://evil.example.net", padHeader, padID)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, _, err = dialPadFrom(t, s, "https://pad.example.com", padHeader, padID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return s.api.Sessions().CountFor(padID) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSignatureFlow(t *testing.T) {
	s := setupServer(t)
	padID, priv := pairedPad(t, s)
	conn := connectPad(t, s, padID)

	resp := doJSON(t, http.MethodGet, s.url("/signature-pad/show?uuid="+padID+"&uid=user-42"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	delivery := decode[api.DeliveryResponse](t, resp)
	assert.Equal(t, 1, delivery.Sessions)

	ev := readEvent(t, conn)
	assert.Equal(t, session.KindShow, ev.Kind)
	assert.Equal(t, "user-42", ev.Message)

	wait := startWait(t, s, padID)

	token := signatureToken(t, padID, priv, "user-42", "data:image/png;base64,AAAA")
	resp = postAssertion(t, s.url("/signature-pad/signature"), padID, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[api.StatusResponse](t, resp).Status)

	payload := awaitPayload(t, wait)
	assert.Equal(t, "ok", payload.Status)
	assert.Equal(t, "data:image/png;base64,AAAA", payload.Data)
	assert.Zero(t, s.api.Engine().Pending())

	resp = doJSON(t, http.MethodGet, s.url("/signatures/user-42"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sig := decode[api.SignatureResponse](t, resp)
	assert.Equal(t, padID, sig.PadID)
	assert.Equal(t, "Ada Lovelace", sig.Name)
	assert.Equal(t, "Front desk", sig.PadName)
	assert.Equal(t, token, sig.Token)

	resp = doJSON(t, http.MethodGet, s.url("/signatures"), nil)
	list := decode[api.ListSignaturesResponse](t, resp)
	assert.Equal(t, []string{"user-42"}, list.Subjects)

	resp = doJSON(t, http.MethodGet, s.url("/signatures/nobody"), nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestSignatureWithoutWaitIsAccepted(t *testing.T) {
	s := setupServer(t)
	padID, priv := pairedPad(t, s)

	resp := postAssertion(t, s.url("/signature-pad/signature"), padID,
		signatureToken(t, padID, priv, "user-1", "data:image/png;base64,AAAA"))
	expectStatus(t, resp, http.StatusOK)
}

func TestSignatureRequiresValidatedPad(t *testing.T) {
	s := setupServer(t)
	p, kp := issuePad(t, s, "Unpaired")

	resp := postAssertion(t, s.url("/signature-pad/signature"), p.ID,
		signatureToken(t, p.ID, kp.PrivateJWK, "user-1", "data:image/png;base64,AAAA"))
	expectStatus(t, resp, http.StatusForbidden)
}

func TestMalformedSignatureResolvesWaitWithError(t *testing.T) {
	s := setupServer(t)
	padID, priv := pairedPad(t, s)

	wait := startWait(t, s, padID)
	resp := postAssertion(t, s.url("/signature-pad/signature"), padID, "garbage")
	expectStatus(t, resp, http.StatusBadRequest)
	assert.Equal(t, "error", awaitPayload(t, wait).Status)

	wait = startWait(t, s, padID)
	resp = postAssertion(t, s.url("/signature-pad/signature"), padID,
		signatureToken(t, padID, priv, "user-1", ""))
	expectStatus(t, resp, http.StatusBadRequest)
	assert.Equal(t, "error", awaitPayload(t, wait).Status)
}

func TestCancelSignature(t *testing.T) {
	s := setupServer(t)
	padID, _ := pairedPad(t, s)

	wait := startWait(t, s, padID)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, s.url("/signature-pad/cancel"), strings.NewReader(`{"reason":"user"}`))
	require.NoError(t, err)
	req.Header.Set(padHeader, padID)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusOK)

	assert.Equal(t, "cancel", awaitPayload(t, wait).Status)

	// Without a pending wait cancel is still acknowledged.
	req, err = http.NewRequestWithContext(t.Context(), http.MethodPost, s.url("/signature-pad/cancel"), nil)
	require.NoError(t, err)
	req.Header.Set(padHeader, padID)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusOK)
}

func TestWaitTimeoutHidesPad(t *testing.T) {
	s := setupServer(t, api.WithWaitTimeout(150*time.Millisecond))
	padID, _ := pairedPad(t, s)
	conn := connectPad(t, s, padID)

	wait := startWait(t, s, padID)
	assert.Equal(t, "timeout", awaitPayload(t, wait).Status)

	ev := readEvent(t, conn)
	assert.Equal(t, session.KindHide, ev.Kind)
	assert.Equal(t, "hide", ev.Message)
}

func TestWaitSupersede(t *testing.T) {
	s := setupServer(t)
	padID, priv := pairedPad(t, s)

	first := startWait(t, s, padID)
	second := make(chan api.ResponsePayload, 1)
	go func() {
		resp, err := http.Get(s.url("/signature-pad/wait-for-response?uuid=" + padID))
		if err != nil {
			close(second)
			return
		}
		defer resp.Body.Close()
		var p api.ResponsePayload
		if json.NewDecoder(resp.Body).Decode(&p) != nil {
			close(second)
			return
		}
		second <- p
	}()

	assert.Equal(t, "superseded", awaitPayload(t, first).Status)
	require.Eventually(t, func() bool {
		return s.api.Engine().IsPending(padID)
	}, 2*time.Second, 5*time.Millisecond)

	resp := postAssertion(t, s.url("/signature-pad/signature"), padID,
		signatureToken(t, padID, priv, "user-7", "data:image/png;base64,BBBB"))
	expectStatus(t, resp, http.StatusOK)

	payload := awaitPayload(t, second)
	assert.Equal(t, "ok", payload.Status)
	assert.Equal(t, "data:image/png;base64,BBBB", payload.Data)
}

func TestShowHide(t *testing.T) {
	s := setupServer(t)
	padID, _ := pairedPad(t, s)

	resp := doJSON(t, http.MethodGet, s.url("/signature-pad/show?uuid="+padID), nil)
	expectStatus(t, resp, http.StatusBadRequest)

	resp = doJSON(t, http.MethodGet, s.url("/signature-pad/show?uuid=6f1c1a8e-2b7e-4c52-9d0c-5f3c2f1b9a10&uid=u"), nil)
	expectStatus(t, resp, http.StatusNotFound)

	// No live session: delivered to nobody, still OK.
	resp = doJSON(t, http.MethodGet, s.url("/signature-pad/hide?uuid="+padID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decode[api.DeliveryResponse](t, resp).Sessions)

	conn := connectPad(t, s, padID)
	resp = doJSON(t, http.MethodGet, s.url("/signature-pad/hide?uuid="+padID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[api.DeliveryResponse](t, resp).Sessions)
	assert.Equal(t, session.KindHide, readEvent(t, conn).Kind)
}

func TestWaitUnknownPad(t *testing.T) {
	s := setupServer(t)
	resp := doJSON(t, http.MethodGet, s.url("/signature-pad/wait-for-response?uuid=nope"), nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestPadAuditTrail(t *testing.T) {
	s := setupServer(t)
	padID, _ := pairedPad(t, s)

	resp := doJSON(t, http.MethodGet, s.url("/pads/"+padID+"/audit"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trail := decode[api.ListAuditResponse](t, resp)

	actions := make([]string, 0, len(trail.Entries))
	for _, e := range trail.Entries {
		assert.Equal(t, padID, e.PadID)
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []string{"registered", "key_issued", "validated"}, actions)

	resp = doJSON(t, http.MethodGet, s.url("/pads/6f1c1a8e-2b7e-4c52-9d0c-5f3c2f1b9a10/audit"), nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestOperatorToken(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := setupServer(t, api.WithOperatorToken("s3cret"), api.WithMetricsRegisterer(reg))

	resp := doJSON(t, http.MethodGet, s.url("/pads"), nil)
	expectStatus(t, resp, http.StatusUnauthorized)
	assert.Equal(t, 1.0, gathered(t, reg, "signpad_audit_events_total", "operator_auth_failure"),
		"missing token is audited")

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, s.url("/pads"), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusUnauthorized)
	assert.Equal(t, 2.0, gathered(t, reg, "signpad_audit_events_total", "operator_auth_failure"))

	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	expectStatus(t, resp, http.StatusOK)

	// Pad-facing routes authenticate with assertions, not the operator token.
	resp = postAssertion(t, s.url("/signature-pad/validate"), "6f1c1a8e-2b7e-4c52-9d0c-5f3c2f1b9a10", "x")
	expectStatus(t, resp, http.StatusNotFound)
}

func TestVerificationRateLimit(t *testing.T) {
	s := setupServer(t)
	padID, priv := pairedPad(t, s)

	for range 5 {
		resp := postAssertion(t, s.url("/signature-pad/signature"), padID, "garbage")
		expectStatus(t, resp, http.StatusBadRequest)
	}

	resp := postAssertion(t, s.url("/signature-pad/signature"), padID,
		signatureToken(t, padID, priv, "user-1", "data:image/png;base64,AAAA"))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestSecurityHeaders(t *testing.T) {
	s := setupServer(t)
	resp := doJSON(t, http.MethodGet, s.url("/pads"), nil)
	defer resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", resp.Header.Get("Referrer-Policy"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))

	resp = doJSON(t, http.MethodGet, s.url("/openapi.yaml"), nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Content-Security-Policy"))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := setupServer(t, api.WithMetricsRegisterer(reg), api.WithWaitTimeout(100*time.Millisecond))
	padID, _ := pairedPad(t, s)
	connectPad(t, s, padID)

	wait := startWait(t, s, padID)
	assert.Equal(t, "timeout", awaitPayload(t, wait).Status)

	assert.Eventually(t, func() bool {
		return gathered(t, reg, "signpad_wait_outcomes_total", "timeout") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1.0, gathered(t, reg, "signpad_audit_events_total", "pad_validated"))
	assert.Equal(t, 1.0, gathered(t, reg, "signpad_sessions", ""))
	assert.Zero(t, gathered(t, reg, "signpad_pending_waits", ""))

	n, err := testutil.GatherAndCount(reg, "signpad_wait_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// gathered returns the value of the sample of name whose label value is
// label, or the unlabelled sample when label is empty.
func gathered(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if label != "" && (len(m.GetLabel()) == 0 || m.GetLabel()[0].GetValue() != label) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestAlertOnAssertionFailures(t *testing.T) {
	alerts := make(chan api.AlertEvent, 4)
	s := setupServer(t, api.WithAlertFunc(func(a api.AlertEvent) {
		select {
		case alerts <- a:
		default:
		}
	}))

	// Unknown pads are never locked out, so every attempt is rejected.
	for range 25 {
		resp := postAssertion(t, s.url("/signature-pad/signature"), uuid.New(), "garbage")
		resp.Body.Close()
	}

	select {
	case a := <-alerts:
		assert.Equal(t, api.AlertAssertionFailureSpike, a.Type)
		assert.Equal(t, 25, a.Threshold)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an assertion failure alert")
	}
}
