package config

import (
	"flag"
	"os"
	"time"

	"github.com/shigotoin/authcore/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-w int      challenge / continuation token validity, minutes
//	-x int      temporary password validity, minutes
//	-k          set the Secure attribute on the session cookie
//	-g string   Cognito region
//	-u string   Cognito user pool id
//	-i string   Cognito app client id
//	-f string   sender address for reset mail
//	-n string   SES configuration set
//	-m string   SES template name for the temporary-password mail
//
// The function first filters os.Args to only the flags it recognizes
// using flagx.FilterArgs, avoiding collisions with other components.
// Duration flags are accepted as integers in minutes.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-w", "-x", "-k", "-g", "-u", "-i", "-f", "-n", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidity.Minutes()), "access_token_validity (in minutes)")
	challengeValidity := fs.Int("w", int(config.ChallengeValidity.Minutes()), "challenge_validity (in minutes)")
	temporaryPasswordValidity := fs.Int("x", int(config.TemporaryPasswordValidity.Minutes()), "temporary_password_validity (in minutes)")

	fs.BoolVar(&config.SecureCookie, "k", config.SecureCookie, "set Secure on the session cookie")
	fs.StringVar(&config.CognitoRegion, "g", config.CognitoRegion, "Cognito region")
	fs.StringVar(&config.CognitoUserPoolID, "u", config.CognitoUserPoolID, "Cognito user pool id")
	fs.StringVar(&config.CognitoClientID, "i", config.CognitoClientID, "Cognito app client id")
	fs.StringVar(&config.EmailFrom, "f", config.EmailFrom, "reset mail sender address")
	fs.StringVar(&config.EmailConfigSet, "n", config.EmailConfigSet, "SES configuration set")
	fs.StringVar(&config.ResetEmailTemplate, "m", config.ResetEmailTemplate, "SES template for the temporary-password mail")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidity = time.Duration(*accessTokenValidity) * time.Minute
	config.ChallengeValidity = time.Duration(*challengeValidity) * time.Minute
	config.TemporaryPasswordValidity = time.Duration(*temporaryPasswordValidity) * time.Minute
}
