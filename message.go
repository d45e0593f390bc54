package bouncer

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"
)

// Action names/values carried by the interactive message buttons.
const (
	actionModeration     = "moderation"
	actionUserModeration = "user_moderation"

	valueApprove = "approve"
	valueReject  = "reject"
	valueBan     = "ban"
)

// InteractiveMessage builds the Slack message for a relayed comment: the
// comment text, a link to the asset (with a commentId query parameter so the
// link lands on the comment), the author as footer, and the three moderation
// buttons. The callback token ties a later button click back to the comment
// and installation.
func InteractiveMessage(comment *Comment, inst *Installation, handshakeToken string) (ChatMessage, error) {
	callbackID, err := CallbackToken{
		CommentID:      comment.ID,
		InstallationID: inst.ID,
		HandshakeToken: handshakeToken,
	}.Encode()
	if err != nil {
		return ChatMessage{}, err
	}

	titleLink, err := assetLink(comment)
	if err != nil {
		return ChatMessage{}, err
	}

	attachment := slack.Attachment{
		Text:       comment.Body,
		Title:      comment.Asset.Title,
		TitleLink:  titleLink,
		Footer:     comment.Author.Username,
		Ts:         json.Number(strconv.FormatInt(comment.CreatedAt.Unix(), 10)),
		CallbackID: callbackID,
		Actions: []slack.AttachmentAction{
			{
				Name:  actionModeration,
				Text:  "Approve",
				Type:  "button",
				Style: "primary",
				Value: valueApprove,
			},
			{
				Name:  actionModeration,
				Text:  "Reject",
				Type:  "button",
				Style: "danger",
				Value: valueReject,
			},
			{
				Name:  actionUserModeration,
				Text:  "Ban User",
				Type:  "button",
				Style: "danger",
				Value: valueBan,
				Confirm: &slack.ConfirmationField{
					Title:       fmt.Sprintf("Are you sure you would like to ban %s?", comment.Author.Username),
					Text:        "Banning this user will also place this comment in the Rejected queue.",
					OkText:      "Yes",
					DismissText: "No",
				},
			},
		},
	}

	return ChatMessage{Attachments: []slack.Attachment{attachment}}, nil
}

func assetLink(comment *Comment) (string, error) {
	u, err := url.Parse(comment.Asset.URL)
	if err != nil {
		return "", errors.Wrapf(err, "parsing asset URL %s", comment.Asset.URL)
	}
	q := u.Query()
	q.Set("commentId", comment.ID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// stripActions removes the named action buttons from the message's first
// attachment (the one InteractiveMessage built).
func stripActions(attachments []slack.Attachment, names ...string) {
	if len(attachments) == 0 {
		return
	}
	var kept []slack.AttachmentAction
	for _, action := range attachments[0].Actions {
		remove := false
		for _, name := range names {
			if action.Name == name {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, action)
		}
	}
	attachments[0].Actions = kept
}

// statusAttachment is the line appended to a message after a moderation
// action, e.g. "✅ @alice approved this comment".
func statusAttachment(emoji, actorID, what string) slack.Attachment {
	return slack.Attachment{
		MarkdownIn: []string{"text"},
		Text:       fmt.Sprintf("*:%s: <@%s> %s*", emoji, actorID, what),
	}
}
