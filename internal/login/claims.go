package login

import (
	"github.com/golang-jwt/jwt/v4"
)

type idTokenClaims struct {
	Email             string `json:"email,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	jwt.RegisteredClaims
}

type userResponse struct {
	Subject           string `json:"subject"`
	Email             string `json:"email,omitempty"`
	PreferredUsername string `json:"preferredUsername,omitempty"`
}

// userFromIDToken reads the user claims without verifying the signature. ID tokens are only
// ever received from the token endpoint of the identity provider.
func userFromIDToken(idToken string) (userResponse, error) {
	claims := idTokenClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(idToken, &claims)
	if err != nil {
		return userResponse{}, err
	}
	return userResponse{
		Subject:           claims.Subject,
		Email:             claims.Email,
		PreferredUsername: claims.PreferredUsername,
	}, nil
}
