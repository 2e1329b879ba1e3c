package session

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the identity envelope carried by a credential.
type Claims struct {
	AccountID string
	SessionID string
	DeviceID  string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// TokenManager issues and verifies credentials.
type TokenManager interface {
	Issue(c Claims, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (Claims, error)
	PublicKeyHex() string
}

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds a TokenManager based on PASETO v4.public.
// Clock skew is applied during verification via ValidAt.
func NewPasetoV4PublicManager(cfg Config) (TokenManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	if cfg.SessionTTL <= 0 {
		return nil, ErrConfig
	}

	return &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.SessionTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

// Issue signs c. ExpiresAt in c caps the credential lifetime when set.
func (m *pasetoV4PublicManager) Issue(c Claims, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)
	if !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(exp) {
		exp = c.ExpiresAt
	}

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	_ = tok.Set("uid", c.AccountID)
	_ = tok.Set("sid", c.SessionID)
	_ = tok.Set("did", c.DeviceID)

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (Claims, error) {
	// Validate slightly in the future so "nbf" survives small clock differences.
	validNow := now.Add(m.clockSkew)

	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	c := Claims{ExpiresAt: exp, IssuedAt: iat, Issuer: iss}
	for key, dst := range map[string]*string{"uid": &c.AccountID, "sid": &c.SessionID, "did": &c.DeviceID} {
		v, err := parsed.GetString(key)
		if err != nil || v == "" {
			return Claims{}, ErrInvalidToken
		}
		*dst = v
	}
	return c, nil
}
