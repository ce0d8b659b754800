package nationstates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testlandiaXML = `<NATION id="testlandia">
<VERIFY>1</VERIFY>
<NAME>Testlandia</NAME>
<UNSTATUS>WA Delegate</UNSTATUS>
<POPULATION>5</POPULATION>
<FIRSTLOGIN>1104537600</FIRSTLOGIN>
</NATION>`

func newTestServer(t *testing.T, status int, body string, seen *url.Values) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = r.URL.Query()
			seen.Set("_raw", r.URL.RawQuery)
			seen.Set("_ua", r.Header.Get("User-Agent"))
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerify_Success(t *testing.T) {
	var seen url.Values
	srv := newTestServer(t, http.StatusOK, testlandiaXML, &seen)
	c := NewClient("test-agent/1.0", "secret", WithAPIURL(srv.URL))

	res := c.Verify(context.Background(), "Testlandia", "abc123", "tok+en/=")

	require.IsType(t, Success{}, res)
	s := res.(Success)
	assert.Equal(t, "testlandia", s.Nation)
	assert.Equal(t, "Testlandia", s.Name)
	assert.True(t, s.WAMember)
	assert.Equal(t, int64(5_000_000), s.Population)
	assert.Equal(t, FoundedAt(1104537600), s.Founded)

	assert.Equal(t, "verify", seen.Get("a"))
	assert.Equal(t, "testlandia", seen.Get("nation"))
	assert.Equal(t, "abc123", seen.Get("checksum"))
	assert.Equal(t, "tok+en/=", seen.Get("token"))
	assert.True(t, strings.HasSuffix(seen.Get("_raw"), "&q=name+unstatus+population+firstlogin"))
	assert.Equal(t, "test-agent/1.0", seen.Get("_ua"))
}

func TestVerify_Denials(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		reason string
		hasErr bool
	}{
		{"bare zero", http.StatusOK, "0\n", "checksum rejected", false},
		{"bare one without shards", http.StatusOK, "1", "profile fields missing", false},
		{"verify zero", http.StatusOK, `<NATION><VERIFY>0</VERIFY><NAME>X</NAME><UNSTATUS>Non-member</UNSTATUS><FIRSTLOGIN>1</FIRSTLOGIN></NATION>`, "checksum rejected", false},
		{"missing verify", http.StatusOK, `<NATION><NAME>X</NAME></NATION>`, "missing VERIFY", true},
		{"missing name", http.StatusOK, `<NATION><VERIFY>1</VERIFY><UNSTATUS>Non-member</UNSTATUS><FIRSTLOGIN>1</FIRSTLOGIN></NATION>`, "missing NAME", true},
		{"missing unstatus", http.StatusOK, `<NATION><VERIFY>1</VERIFY><NAME>X</NAME><FIRSTLOGIN>1</FIRSTLOGIN></NATION>`, "missing UNSTATUS", true},
		{"missing firstlogin", http.StatusOK, `<NATION><VERIFY>1</VERIFY><NAME>X</NAME><UNSTATUS>Non-member</UNSTATUS></NATION>`, "missing FIRSTLOGIN", true},
		{"bad population", http.StatusOK, `<NATION><VERIFY>1</VERIFY><NAME>X</NAME><UNSTATUS>Non-member</UNSTATUS><POPULATION>lots</POPULATION><FIRSTLOGIN>1</FIRSTLOGIN></NATION>`, "invalid POPULATION", true},
		{"negative population", http.StatusOK, `<NATION><VERIFY>1</VERIFY><NAME>X</NAME><UNSTATUS>Non-member</UNSTATUS><POPULATION>-1</POPULATION><FIRSTLOGIN>1</FIRSTLOGIN></NATION>`, "invalid POPULATION", true},
		{"population out of range", http.StatusOK, `<NATION><VERIFY>1</VERIFY><NAME>X</NAME><UNSTATUS>Non-member</UNSTATUS><POPULATION>1e300</POPULATION><FIRSTLOGIN>1</FIRSTLOGIN></NATION>`, "invalid POPULATION", true},
		{"garbage", http.StatusOK, `<html>rate limited`, "unparseable response", true},
		{"server error", http.StatusTooManyRequests, "", "unexpected status", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, tc.status, tc.body, nil)
			c := NewClient("", "secret", WithAPIURL(srv.URL))

			res := c.Verify(context.Background(), "testlandia", "abc", "tok")

			require.IsType(t, Denied{}, res)
			d := res.(Denied)
			assert.Equal(t, tc.reason, d.Reason)
			if tc.hasErr {
				assert.Error(t, d.Err)
			} else {
				assert.NoError(t, d.Err)
			}
		})
	}
}

func TestVerify_TransportFailureIsDenied(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient("", "secret", WithAPIURL(srv.URL))

	res := c.Verify(context.Background(), "testlandia", "abc", "tok")

	require.IsType(t, Denied{}, res)
	assert.Error(t, res.(Denied).Err)
}

func TestVerify_CanceledContextIsDenied(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, testlandiaXML, nil)
	c := NewClient("", "secret", WithAPIURL(srv.URL))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.IsType(t, Denied{}, c.Verify(ctx, "testlandia", "abc", "tok"))
}

func TestParseVerifyResponse_ProfileFields(t *testing.T) {
	t.Run("non-member maps to false", func(t *testing.T) {
		res := parseVerifyResponse("x", []byte(`<NATION><VERIFY>1</VERIFY><NAME>X</NAME><UNSTATUS>Non-member</UNSTATUS><POPULATION>0.5</POPULATION><FIRSTLOGIN>1104537600</FIRSTLOGIN></NATION>`))
		s := res.(Success)
		assert.False(t, s.WAMember)
		assert.Equal(t, int64(500_000), s.Population)
	})

	t.Run("member status variants map to true", func(t *testing.T) {
		for _, status := range []string{"WA Member", "WA Delegate"} {
			res := parseVerifyResponse("x", []byte(`<NATION><VERIFY>1</VERIFY><NAME>X</NAME><UNSTATUS>`+status+`</UNSTATUS><FIRSTLOGIN>1</FIRSTLOGIN></NATION>`))
			assert.True(t, res.(Success).WAMember, status)
		}
	})

	t.Run("absent population defaults to zero", func(t *testing.T) {
		res := parseVerifyResponse("x", []byte(`<NATION><VERIFY>1</VERIFY><NAME>X</NAME><UNSTATUS>Non-member</UNSTATUS><FIRSTLOGIN>1</FIRSTLOGIN></NATION>`))
		assert.Equal(t, int64(0), res.(Success).Population)
	})

	t.Run("zero or unparseable first login is antiquity", func(t *testing.T) {
		for _, fl := range []string{"0", "", "unknown"} {
			res := parseVerifyResponse("x", []byte(`<NATION><VERIFY>1</VERIFY><NAME>X</NAME><UNSTATUS>Non-member</UNSTATUS><FIRSTLOGIN>`+fl+`</FIRSTLOGIN></NATION>`))
			f := res.(Success).Founded
			assert.False(t, f.Known(), fl)
			assert.Equal(t, Antiquity, f.Label)
		}
	})

	t.Run("latin-1 declaration", func(t *testing.T) {
		body := "<?xml version=\"1.0\" encoding=\"iso-8859-1\"?>\n<NATION><VERIFY>1</VERIFY><NAME>Caf\xe9</NAME><UNSTATUS>Non-member</UNSTATUS><FIRSTLOGIN>1</FIRSTLOGIN></NATION>"
		res := parseVerifyResponse("x", []byte(body))
		require.IsType(t, Success{}, res)
		assert.Equal(t, "Café", res.(Success).Name)
	})
}

func TestGenerateToken_PureFunctionOfInputAndTime(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	c := NewClient("", "secret", WithClock(func() time.Time { return now }))

	a := c.GenerateToken("Testlandia")
	b := c.GenerateToken("testlandia")
	assert.Equal(t, a, b, "same nation and millisecond must give the same token")
	assert.NotEmpty(t, a)

	now = now.Add(time.Millisecond)
	assert.NotEqual(t, a, c.GenerateToken("testlandia"), "different time must diverge")

	other := NewClient("", "other-secret", WithClock(func() time.Time { return now.Add(-time.Millisecond) }))
	assert.NotEqual(t, a, other.GenerateToken("testlandia"), "different secret must diverge")
}

func TestGenerateToken_KnownVector(t *testing.T) {
	// HMAC-SHA256("secret", "testlandia1700000000123"), base64.
	c := NewClient("", "secret", WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_123) }))
	tok := c.GenerateToken("testlandia")
	assert.Len(t, tok, 44)
	assert.True(t, strings.HasSuffix(tok, "="))
}

func TestVerificationURL(t *testing.T) {
	c := NewClient("", "secret")
	u, err := url.Parse(c.VerificationURL("a+b/c="))
	require.NoError(t, err)
	assert.Equal(t, "www.nationstates.net", u.Host)
	assert.Equal(t, "/page=verify_login", u.Path)
	assert.Equal(t, "a+b/c=", u.Query().Get("token"))
}

func TestNormalizeNation(t *testing.T) {
	assert.Equal(t, "testlandia", NormalizeNation("Testlandia"))
	assert.Equal(t, "the_united_states", NormalizeNation("  The United States "))
	assert.Equal(t, "already_normal", NormalizeNation("already_normal"))
	assert.Equal(t, "éire_nua", NormalizeNation("Éire Nua"))
}
