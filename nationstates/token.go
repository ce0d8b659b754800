package nationstates

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strconv"
)

// GenerateToken derives the challenge token shown to the user on NationStates'
// verification page: base64(HMAC-SHA256(secret, nation + unix millis)).
//
// The current time salts the token, so two tokens for the same nation differ
// unless they are generated in the same millisecond. The bridge does not track
// issued tokens; the short-lived nsToken cookie is the only record.
func (c *Client) GenerateToken(nation string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(NormalizeNation(nation)))
	mac.Write([]byte(strconv.FormatInt(c.now().UnixMilli(), 10)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerificationURL returns the NationStates page that displays the checksum
// for token to the logged-in nation.
func (c *Client) VerificationURL(token string) string {
	u, err := url.Parse(c.verifyPageURL)
	if err != nil {
		return c.verifyPageURL + "?token=" + url.QueryEscape(token)
	}
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}
