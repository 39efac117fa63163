package wecom

import (
	"context"
	"net/http"
	"strings"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageMarkdown MessageType = "markdown"
	MessageTextCard MessageType = "textcard"
)

// AllUsers addresses every member visible to the application.
const AllUsers = "@all"

// Recipients are joined with "|" on the wire. When all three lists are
// empty the message goes to AllUsers.
type Recipients struct {
	Users   []string `json:"users,omitempty"`
	Parties []string `json:"parties,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func (r Recipients) empty() bool {
	return len(r.Users) == 0 && len(r.Parties) == 0 && len(r.Tags) == 0
}

type TextCard struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	ButtonText  string `json:"btntxt,omitempty"`
}

// Message is an application message. Content is used by text and markdown.
type Message struct {
	AgentID int64
	Type    MessageType
	To      Recipients
	Content string
	Card    *TextCard
}

// SendResult lists recipients the vendor could not deliver to.
type SendResult struct {
	MsgID        string `json:"msgid"`
	InvalidUser  string `json:"invaliduser"`
	InvalidParty string `json:"invalidparty"`
	InvalidTag   string `json:"invalidtag"`
}

func (c *Client) SendText(ctx context.Context, appID string, agentID int64, content string, to Recipients) (*SendResult, error) {
	return c.SendMessage(ctx, appID, Message{AgentID: agentID, Type: MessageText, To: to, Content: content})
}

func (c *Client) SendMarkdown(ctx context.Context, appID string, agentID int64, content string, to Recipients) (*SendResult, error) {
	return c.SendMessage(ctx, appID, Message{AgentID: agentID, Type: MessageMarkdown, To: to, Content: content})
}

// SendMessage posts to message/send.
func (c *Client) SendMessage(ctx context.Context, appID string, msg Message) (*SendResult, error) {
	body, err := messageBody(msg)
	if err != nil {
		return nil, err
	}
	var res SendResult
	if err := c.Do(ctx, appID, Request{Endpoint: "message/send", Method: http.MethodPost, Body: body}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func messageBody(msg Message) (map[string]any, error) {
	if msg.AgentID <= 0 {
		return nil, &ValidationError{Field: "agentid", Reason: "must be positive"}
	}
	body := map[string]any{
		"agentid": msg.AgentID,
		"msgtype": string(msg.Type),
		"safe":    0,
	}
	if msg.To.empty() {
		body["touser"] = AllUsers
	} else {
		setJoined(body, "touser", msg.To.Users)
		setJoined(body, "toparty", msg.To.Parties)
		setJoined(body, "totag", msg.To.Tags)
	}

	switch msg.Type {
	case MessageText, MessageMarkdown:
		if strings.TrimSpace(msg.Content) == "" {
			return nil, &ValidationError{Field: "content", Reason: "empty"}
		}
		body[string(msg.Type)] = map[string]string{"content": msg.Content}
	case MessageTextCard:
		if msg.Card == nil || msg.Card.Title == "" || msg.Card.URL == "" {
			return nil, &ValidationError{Field: "textcard", Reason: "title and url are required"}
		}
		body["textcard"] = msg.Card
	default:
		return nil, &ValidationError{Field: "msgtype", Reason: "unsupported type " + string(msg.Type)}
	}
	return body, nil
}

func setJoined(body map[string]any, key string, ids []string) {
	if len(ids) > 0 {
		body[key] = strings.Join(ids, "|")
	}
}
