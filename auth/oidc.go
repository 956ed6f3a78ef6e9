package auth

import (
	"context"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/coreos/go-oidc/v3/oidc"
)

// AuthenticateOIDC verifies a given OIDC ID-Token using the configured OIDC
// provider. It returns the user's id (the verified e-mail claim) if
// verification was successful, or an empty string if no matching provider
// is configured.
func AuthenticateOIDC(idToken, oidcProvider string, cfg *config.Config) (string, error) {
	if idToken == "" || len(cfg.OIDCConfigs) == 0 {
		return "", nil
	}
	var oidcConf *config.OIDCConfig
	for i := range cfg.OIDCConfigs {
		if cfg.OIDCConfigs[i].Name == oidcProvider {
			oidcConf = &cfg.OIDCConfigs[i]
			break
		}
	}
	if oidcConf == nil {
		globals.AppLogger.Debug("no oidc config found for provider", "provider", oidcProvider)
		return "", nil
	}
	provider, err := oidc.NewProvider(context.Background(), oidcConf.ProviderUrl)
	if err != nil {
		return "", err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifier := provider.Verifier(&conf)
	verifiedIdToken, err := verifier.Verify(context.Background(), idToken)
	if err != nil {
		globals.AppLogger.Error("could not verify id token", "error", err)
		return "", err
	}

	claims := struct {
		Email string `json:"email"`
	}{}
	err = verifiedIdToken.Claims(&claims)
	if err != nil {
		return "", err
	}
	return claims.Email, nil
}
