package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shawn/wecom-gateway/internal/msgcrypt"
)

// newCryptoCmd groups the offline helpers. They never contact the gateway.
func newCryptoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crypto",
		Short: "Sign, encrypt and decrypt callback payloads locally",
	}
	cmd.AddCommand(newCryptoSignCmd())
	cmd.AddCommand(newCryptoEncryptCmd())
	cmd.AddCommand(newCryptoDecryptCmd())
	return cmd
}

func newCryptoSignCmd() *cobra.Command {
	var token, timestamp, nonce string

	cmd := &cobra.Command{
		Use:   "sign <data>",
		Short: "Compute msg_signature for a payload or echostr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = viper.GetString("token")
			}
			if token == "" {
				return errors.New("--token or WECOMCTL_TOKEN is required")
			}
			if timestamp == "" {
				timestamp = strconv.FormatInt(time.Now().Unix(), 10)
			}
			sig := msgcrypt.Signature(token, timestamp, nonce, args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "msg_signature=%s&timestamp=%s&nonce=%s\n", sig, timestamp, nonce)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Callback verification token")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "Timestamp (default now)")
	cmd.Flags().StringVar(&nonce, "nonce", "nonce", "Nonce")
	return cmd
}

func aesKeyFlag(cmd *cobra.Command, key *string, receiver *string) {
	cmd.Flags().StringVar(key, "aes-key", "", "EncodingAESKey (or WECOMCTL_AES_KEY)")
	cmd.Flags().StringVar(receiver, "receiver", "", "Receiver ID, normally the corp ID")
}

func resolveKey(key string) (string, error) {
	if key == "" {
		key = viper.GetString("aes_key")
	}
	if key == "" {
		return "", errors.New("--aes-key or WECOMCTL_AES_KEY is required")
	}
	return key, nil
}

func newCryptoEncryptCmd() *cobra.Command {
	var key, receiver string

	cmd := &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Encrypt a payload the way the platform does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := resolveKey(key)
			if err != nil {
				return err
			}
			ct, err := msgcrypt.Encrypt([]byte(args[0]), receiver, k)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ct)
			return nil
		},
	}
	aesKeyFlag(cmd, &key, &receiver)
	return cmd
}

func newCryptoDecryptCmd() *cobra.Command {
	var key, receiver string

	cmd := &cobra.Command{
		Use:   "decrypt <ciphertext>",
		Short: "Decrypt a callback payload",
		Long: `Decrypt a base64 callback payload. With --receiver the trailing
receiver ID must match.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := resolveKey(key)
			if err != nil {
				return err
			}
			pt, err := msgcrypt.Decrypt(args[0], k, receiver)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(pt))
			return nil
		},
	}
	aesKeyFlag(cmd, &key, &receiver)
	return cmd
}
