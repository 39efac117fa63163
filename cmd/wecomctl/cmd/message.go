package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shawn/wecom-gateway/internal/cli/api"
	"github.com/shawn/wecom-gateway/internal/cli/output"
)

func newMessageCmd(client api.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Send application messages",
	}
	cmd.AddCommand(newMessageSendCmd(client))
	return cmd
}

func newMessageSendCmd(client api.Client) *cobra.Command {
	var (
		req    api.MessageRequest
		card   api.TextCard
		kind   string
	)

	cmd := &cobra.Command{
		Use:   "send <tenant-id> <content>",
		Short: "Send a message through the tenant's application",
		Long: `Send a text, markdown or textcard message.

Without --user, --party or --tag the message goes to every member visible
to the application. For textcard the content is the card description and
--title and --url are required.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID := args[0]
			req.Type = kind
			switch kind {
			case "text", "markdown":
				req.Content = args[1]
			case "textcard":
				if card.Title == "" || card.URL == "" {
					return errors.New("textcard requires --title and --url")
				}
				card.Description = args[1]
				req.Card = &card
			default:
				return fmt.Errorf("unsupported message type %q", kind)
			}

			ctx, cancel := requestContext(cmd)
			defer cancel()

			res, err := client.SendMessage(ctx, tenantID, &req)
			if err != nil {
				return failed(cmd, "send message", err)
			}

			styler := output.NewStyler(noColor)
			styler.FprintSuccess(cmd.OutOrStdout(), fmt.Sprintf("Message sent (msgid %s)", res.MsgID))
			return output.Render(cmd.OutOrStdout(), outputFormat, res, func(w io.Writer) {
				for _, inv := range [][2]string{
					{"invalid users", res.InvalidUser},
					{"invalid parties", res.InvalidParty},
					{"invalid tags", res.InvalidTag},
				} {
					if inv[1] != "" {
						styler.FprintWarn(w, inv[0]+": "+inv[1])
					}
				}
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&kind, "type", "text", "Message type: text|markdown|textcard")
	f.StringSliceVar(&req.Users, "user", nil, "Recipient user ID (repeatable)")
	f.StringSliceVar(&req.Parties, "party", nil, "Recipient department ID (repeatable)")
	f.StringSliceVar(&req.Tags, "tag", nil, "Recipient tag ID (repeatable)")
	f.StringVar(&card.Title, "title", "", "Textcard title")
	f.StringVar(&card.URL, "url", "", "Textcard link")
	f.StringVar(&card.ButtonText, "button", "", "Textcard button text")

	return cmd
}
