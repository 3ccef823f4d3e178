package stream

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// The access token is minted by the backend's OAuth flow. The engine never
// verifies it (the server does); it only reads the claims to learn which
// account this session belongs to, which scopes follow-transition filtering.

type AccessClaims struct {
	AccountId string
	Issuer    string
	Scopes    string
}

func ParseAccessTokenUnverified(accessToken string) (*AccessClaims, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(accessToken, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	accessClaims := &AccessClaims{}

	if sub, ok := claims["sub"].(string); ok {
		accessClaims.AccountId = sub
	}
	if accessClaims.AccountId == "" {
		if accountId, ok := claims["account_id"].(string); ok {
			accessClaims.AccountId = accountId
		}
	}
	if iss, ok := claims["iss"].(string); ok {
		accessClaims.Issuer = iss
	}
	if scope, ok := claims["scope"].(string); ok {
		accessClaims.Scopes = scope
	}

	return accessClaims, nil
}
