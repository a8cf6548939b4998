package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/shigotoin/authcore/internal/flagx"
	"github.com/shigotoin/authcore/internal/timex"
)

// JsonConfig mirrors Config for JSON unmarshalling. Duration fields use
// timex.Duration so files can hold either "12h" strings or integer
// nanoseconds. Values are copied into the runtime Config afterwards.
type JsonConfig struct {
	EndpointAddr              string         `json:"endpoint_addr"`
	DatabaseDSN               string         `json:"database_dsn"`
	SecretKey                 string         `json:"secret_key"`
	AccessTokenValidity       timex.Duration `json:"access_token_validity"`
	ChallengeValidity         timex.Duration `json:"challenge_validity"`
	TemporaryPasswordValidity timex.Duration `json:"temporary_password_validity"`
	SecureCookie              bool           `json:"secure_cookie"`
	CognitoRegion             string         `json:"cognito_region"`
	CognitoUserPoolID         string         `json:"cognito_user_pool_id"`
	CognitoClientID           string         `json:"cognito_client_id"`
	AWSAccessKeyID            string         `json:"aws_access_key_id"`
	AWSSecretAccessKey        string         `json:"aws_secret_access_key"`
	EmailFrom                 string         `json:"email_from"`
	EmailConfigSet            string         `json:"email_config_set"`
	ResetEmailTemplate        string         `json:"reset_email_template"`
}

// parseJson loads configuration from the JSON file named by the -c or
// -config flags. When no flag is given nothing is loaded. An unreadable
// or malformed file panics: the server must not start on a half-read
// configuration.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.AccessTokenValidity = time.Duration(c.AccessTokenValidity.Duration)
	config.ChallengeValidity = time.Duration(c.ChallengeValidity.Duration)
	config.TemporaryPasswordValidity = time.Duration(c.TemporaryPasswordValidity.Duration)
	config.SecureCookie = c.SecureCookie
	config.CognitoRegion = c.CognitoRegion
	config.CognitoUserPoolID = c.CognitoUserPoolID
	config.CognitoClientID = c.CognitoClientID
	config.AWSAccessKeyID = c.AWSAccessKeyID
	config.AWSSecretAccessKey = c.AWSSecretAccessKey
	config.EmailFrom = c.EmailFrom
	config.EmailConfigSet = c.EmailConfigSet
	config.ResetEmailTemplate = c.ResetEmailTemplate
}
