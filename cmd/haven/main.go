// Command haven is the operator and authenticator front-end for a
// keyhaven homeserver: key management, direct signin, token issuance and
// the signer side of the relay handshake.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/internal/authtoken"
	"github.com/keyhaven/keyhaven/internal/identity"
	"github.com/keyhaven/keyhaven/internal/scope"
	"github.com/keyhaven/keyhaven/internal/session"
)

type client struct {
	BaseURL string
	HTTP    *http.Client
}

func (c *client) do(method, path string, body any) (int, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, err
		}
	}
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	var v any
	if json.Unmarshal(body, &v) == nil {
		p, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(p))
		return
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		server          = envOr("KEYHAVEN_SERVER", "https://localhost:8443")
		serverAddress   = envOr("KEYHAVEN_SERVER_ADDRESS", "")
		seedFile        = envOr("KEYHAVEN_SEED_FILE", "haven.key")
		resolverTimeout = 10 * time.Second
	)
	api := &client{HTTP: &http.Client{Timeout: 90 * time.Second}}

	root := &cobra.Command{
		Use:           "haven",
		Short:         "keyhaven client: keys, signin, tokens and relay channels",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			api.BaseURL = server
			if serverAddress == "" {
				return nil
			}
			// With the homeserver's address known, the transport pins the
			// TLS handshake to that key instead of the CA pool.
			addr, err := identity.ParseAddress(serverAddress)
			if err != nil {
				return fmt.Errorf("--server-address: %w", err)
			}
			resolver, err := pinnedResolver(addr)
			if err != nil {
				return err
			}
			api.HTTP, err = trustedClient(resolver, addr, resolverTimeout, 90*time.Second)
			return err
		},
	}
	root.PersistentFlags().StringVar(&server, "server", server, "homeserver base URL")
	root.PersistentFlags().StringVar(&serverAddress, "server-address", serverAddress, "homeserver identity address; pins TLS to its key")
	root.PersistentFlags().StringVar(&seedFile, "seed-file", seedFile, "path to the identity seed file")
	root.PersistentFlags().DurationVar(&resolverTimeout, "resolver-timeout", resolverTimeout, "bound on trust record resolution")

	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new identity and write its seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(seedFile); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", seedFile)
			}
			kp, err := identity.Generate()
			if err != nil {
				return err
			}
			if err := kp.SaveSeed(seedFile); err != nil {
				return err
			}
			fmt.Println(kp.Address())
			return nil
		},
	}

	addressCmd := &cobra.Command{
		Use:   "address",
		Short: "Print the address of the identity in the seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.LoadSeed(seedFile)
			if err != nil {
				return err
			}
			fmt.Println(kp.Address())
			return nil
		},
	}

	signinCmd := &cobra.Command{
		Use:   "signin",
		Short: "Challenge-sign-redeem against the homeserver, printing the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.LoadSeed(seedFile)
			if err != nil {
				return err
			}

			status, body, err := api.do(http.MethodPost, "/auth/challenge", map[string]string{
				"address": kp.Address().String(),
			})
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				api.print(status, body)
				return fmt.Errorf("challenge failed: status %d", status)
			}
			var ch struct {
				Challenge string `json:"challenge"`
			}
			if err := json.Unmarshal(body, &ch); err != nil {
				return err
			}

			sig, err := kp.Sign(session.SigninMessage(ch.Challenge))
			if err != nil {
				return err
			}
			status, body, err = api.do(http.MethodPost, "/auth/signin", map[string]string{
				"address":   kp.Address().String(),
				"challenge": ch.Challenge,
				"signature": base64.StdEncoding.EncodeToString(sig),
			})
			if err != nil {
				return err
			}
			api.print(status, body)
			if status != http.StatusOK {
				return fmt.Errorf("signin failed: status %d", status)
			}
			return nil
		},
	}

	var (
		relyingApp string
		scopeTexts []string
		ttl        time.Duration
	)

	tokenCmd := &cobra.Command{Use: "token", Short: "Authorization token operations"}
	tokenIssueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign an authorization token for a relying application",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.LoadSeed(seedFile)
			if err != nil {
				return err
			}
			scopes, err := scope.ParseDelegatedSet(scopeTexts)
			if err != nil {
				return err
			}
			raw, err := authtoken.Issue(kp, relyingApp, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Println(raw)
			return nil
		},
	}
	tokenIssueCmd.Flags().StringVar(&relyingApp, "relying-app", "", "relying application identifier (audience)")
	tokenIssueCmd.Flags().StringSliceVar(&scopeTexts, "scope", nil, "granted scope, e.g. pub/app1/:rw (repeatable)")
	tokenIssueCmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "token validity")
	_ = tokenIssueCmd.MarkFlagRequired("relying-app")
	_ = tokenIssueCmd.MarkFlagRequired("scope")
	tokenCmd.AddCommand(tokenIssueCmd)

	channelCmd := &cobra.Command{Use: "channel", Short: "Relay channel operations"}

	channelOpenCmd := &cobra.Command{
		Use:   "open",
		Short: "Open a relay channel (relying application side)",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := api.do(http.MethodPost, "/relay/channels", map[string]any{
				"relying_app":      relyingApp,
				"requested_scopes": scopeTexts,
			})
			if err != nil {
				return err
			}
			api.print(status, body)
			return nil
		},
	}
	channelOpenCmd.Flags().StringVar(&relyingApp, "relying-app", "", "relying application identifier")
	channelOpenCmd.Flags().StringSliceVar(&scopeTexts, "scope", nil, "requested scope (repeatable)")
	_ = channelOpenCmd.MarkFlagRequired("relying-app")

	var wait time.Duration
	channelPollCmd := &cobra.Command{
		Use:   "poll TOKEN",
		Short: "Poll a relay channel; a fulfilled channel yields the auth token once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/relay/channels/" + args[0]
			if wait > 0 {
				path += "?wait=" + wait.String()
			}
			status, body, err := api.do(http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			api.print(status, body)
			return nil
		},
	}
	channelPollCmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "long-poll duration, 0 for immediate")

	channelFulfillCmd := &cobra.Command{
		Use:   "fulfill TOKEN",
		Short: "Sign a token for the channel's relying app and deliver it (signer side)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := identity.LoadSeed(seedFile)
			if err != nil {
				return err
			}
			scopes, err := scope.ParseDelegatedSet(scopeTexts)
			if err != nil {
				return err
			}
			raw, err := authtoken.Issue(kp, relyingApp, scopes, ttl)
			if err != nil {
				return err
			}
			status, body, err := api.do(http.MethodPost, "/relay/channels/"+args[0], map[string]string{
				"auth_token": raw,
			})
			if err != nil {
				return err
			}
			if status == http.StatusNoContent {
				fmt.Println("fulfilled")
				return nil
			}
			api.print(status, body)
			return fmt.Errorf("fulfill failed: status %d", status)
		},
	}
	channelFulfillCmd.Flags().StringVar(&relyingApp, "relying-app", "", "relying application the token is issued for")
	channelFulfillCmd.Flags().StringSliceVar(&scopeTexts, "scope", nil, "granted scope (repeatable)")
	channelFulfillCmd.Flags().DurationVar(&ttl, "ttl", 5*time.Minute, "token validity")
	_ = channelFulfillCmd.MarkFlagRequired("relying-app")
	_ = channelFulfillCmd.MarkFlagRequired("scope")

	channelCmd.AddCommand(channelOpenCmd, channelPollCmd, channelFulfillCmd)
	root.AddCommand(keygenCmd, addressCmd, signinCmd, tokenCmd, channelCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "haven:", err)
		os.Exit(1)
	}
}
