package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

// SignatureAlgorithm is the only algorithm this instance signs with or
// accepts.
const SignatureAlgorithm = "rsa-sha256"

// DefaultSignedHeaders is the header set this instance signs. Digest is
// added when the request carries a body.
var DefaultSignedHeaders = []string{"(request-target)", "host", "date"}

// Signature is a decomposed HTTP signature, suitable for building or parsing
// a Signature header:
//
//	keyId="<actorUri>#main-key",algorithm="rsa-sha256",headers="(request-target) host date",signature="<base64>"
type Signature struct {
	KeyID     string
	Algorithm string
	Headers   []string
	Signature string
	Date      string
	Digest    string
}

// Header renders the Signature header value.
func (s *Signature) Header() string {
	return fmt.Sprintf(`keyId="%s",algorithm="%s",headers="%s",signature="%s"`,
		s.KeyID, s.Algorithm, strings.Join(s.Headers, " "), s.Signature)
}

// KeyId derives the key id for an actor URI.
func KeyId(actorURI string) string {
	return actorURI + "#main-key"
}

// ActorFromKeyId strips the key fragment from a keyId.
// "https://example.com/calendars/team#main-key" -> "https://example.com/calendars/team"
func ActorFromKeyId(keyId string) string {
	return strings.Split(keyId, "#")[0]
}

// BodyDigest computes the Digest header value for a request body.
func BodyDigest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// SignRequest signs an outgoing HTTP request in place, covering the digest
// when the request carries one. Date and Digest headers must already be set.
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	headers := append([]string{}, DefaultSignedHeaders...)
	if req.Header.Get("Digest") != "" {
		headers = append(headers, "digest")
	}

	// The library reads covered headers from req.Header only, while Go keeps
	// the host in req.Host/req.URL.Host; mirror it so "host" can be signed.
	if req.Header.Get("Host") == "" {
		host := req.Host
		if host == "" {
			host = req.URL.Host
		}
		req.Header.Set("Host", host)
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	if err := signer.SignRequest(privateKey, keyId, req, nil); err != nil {
		return err
	}

	// The library writes algorithm="hs2019" regardless of the real algorithm;
	// restore the pinned name this instance declares, as Sign already does.
	sig, err := ParseSignatureHeader(req.Header.Get("Signature"))
	if err != nil {
		return fmt.Errorf("failed to decompose signature: %w", err)
	}
	sig.Algorithm = SignatureAlgorithm
	req.Header.Set("Signature", sig.Header())
	return nil
}

// Sign produces a decomposed signature for a POST of body to targetURL. The
// components come from signing a request shaped like the eventual delivery
// and taking its Signature header apart.
func Sign(privateKey *rsa.PrivateKey, keyId string, body []byte, targetURL string, date string) (*Signature, error) {
	req, err := http.NewRequest(http.MethodPost, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid target url: %w", err)
	}
	req.Header.Set("Date", date)

	digest := ""
	if body != nil {
		digest = BodyDigest(body)
		req.Header.Set("Digest", digest)
	}

	if err := SignRequest(req, privateKey, keyId); err != nil {
		return nil, err
	}

	sig, err := ParseSignatureHeader(req.Header.Get("Signature"))
	if err != nil {
		return nil, fmt.Errorf("failed to decompose signature: %w", err)
	}
	sig.Algorithm = SignatureAlgorithm
	sig.Date = date
	sig.Digest = digest
	return sig, nil
}

// ParseSignatureHeader decomposes a Signature header value.
func ParseSignatureHeader(header string) (*Signature, error) {
	sig := &Signature{}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		eq := strings.Index(part, "=")
		if eq < 0 {
			return nil, fmt.Errorf("malformed signature component: %q", part)
		}
		key := part[:eq]
		val := strings.Trim(part[eq+1:], `"`)
		switch key {
		case "keyId":
			sig.KeyID = val
		case "algorithm":
			sig.Algorithm = val
		case "headers":
			sig.Headers = strings.Fields(val)
		case "signature":
			sig.Signature = val
		}
	}
	if sig.KeyID == "" || sig.Signature == "" {
		return nil, fmt.Errorf("signature header missing keyId or signature")
	}
	if len(sig.Headers) == 0 {
		// Per the signature draft, an absent headers list means only date
		// was signed.
		sig.Headers = []string{"date"}
	}
	return sig, nil
}

// VerifyRequest checks the HTTP signature on an incoming request against a
// public key. The signing string is reconstructed in exactly the header
// order the sender declares, so a permuted or missing declared header fails.
// Any malformed input or algorithm mismatch yields false; verification
// failure is a normal outcome, never an error.
func VerifyRequest(req *http.Request, publicKeyPem string) bool {
	header := req.Header.Get("Signature")
	if header == "" {
		return false
	}

	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return false
	}
	if sig.Algorithm != "" && sig.Algorithm != SignatureAlgorithm {
		return false
	}

	// Mirror the Go-native host field into the header map so a declared
	// "host" header can be found when rebuilding the signing string.
	if req.Header.Get("Host") == "" {
		host := req.Host
		if host == "" {
			host = req.URL.Host
		}
		req.Header.Set("Host", host)
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return false
	}

	publicKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return false
	}

	return verifier.Verify(publicKey, httpsig.RSA_SHA256) == nil
}

// ParsePrivateKey converts a PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts a PEM string to *rsa.PublicKey, accepting both
// PKIX and PKCS1 encodings since remote instances differ.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if pubKey, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPubKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaPubKey, nil
	}

	rsaPubKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return rsaPubKey, nil
}
