package domain

// Reply is one wire reply as sent to the client.
type Reply = map[string]any

// WebAccess is implemented by anything that knows its own web wire form.
type WebAccess interface {
	ToWebDriver() Reply
}

// OutgoingMessage is a plain bot message with an optional attachment.
type OutgoingMessage struct {
	Text       string
	Attachment *Attachment
}

// ItemKind tags the variant held by an OutgoingItem.
type ItemKind int

const (
	ItemUnsupported ItemKind = iota
	ItemRaw
	ItemWebAccess
	ItemEcho
	ItemMessage
)

func (k ItemKind) String() string {
	switch k {
	case ItemRaw:
		return "raw"
	case ItemWebAccess:
		return "web_access"
	case ItemEcho:
		return "echo"
	case ItemMessage:
		return "message"
	}
	return "unsupported"
}

// OutgoingItem is a queued reply awaiting delivery. Exactly one of the
// variant fields is set, as indicated by Kind.
type OutgoingItem struct {
	Kind ItemKind

	Raw     Reply
	Web     WebAccess
	Echo    *IncomingMessage
	Message *OutgoingMessage
	Value   any // original value of an unsupported item

	Recipient            string
	AdditionalParameters map[string]any
}

// NewOutgoingItem tags v with its variant. Values of unknown shape and nil
// message pointers become ItemUnsupported instead of failing.
func NewOutgoingItem(v any, recipient string, params map[string]any) OutgoingItem {
	item := OutgoingItem{Recipient: recipient, AdditionalParameters: params}
	switch m := v.(type) {
	case map[string]any:
		item.Kind = ItemRaw
		item.Raw = m
	case *IncomingMessage:
		if m == nil {
			item.Value = v
			break
		}
		item.Kind = ItemEcho
		item.Echo = m
	case OutgoingMessage:
		item.Kind = ItemMessage
		item.Message = &m
	case *OutgoingMessage:
		if m == nil {
			item.Value = v
			break
		}
		item.Kind = ItemMessage
		item.Message = m
	case WebAccess:
		item.Kind = ItemWebAccess
		item.Web = m
	case string:
		item.Kind = ItemMessage
		item.Message = &OutgoingMessage{Text: m}
	default:
		item.Value = v
	}
	return item
}

// TypingIndicator asks the client to show a typing animation.
type TypingIndicator struct {
	Timeout float64
}

func (t TypingIndicator) ToWebDriver() Reply {
	return Reply{
		"type":    "typing_indicator",
		"timeout": t.Timeout,
	}
}

// Button is one choice offered by a Question.
type Button struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// Question is a bot message offering buttons.
type Question struct {
	Text       string
	CallbackID string
	Buttons    []Button
}

func (q Question) ToWebDriver() Reply {
	actions := make([]map[string]any, 0, len(q.Buttons))
	for _, b := range q.Buttons {
		actions = append(actions, map[string]any{
			"type":  "button",
			"text":  b.Text,
			"value": b.Value,
		})
	}
	kind := "text"
	if len(actions) > 0 {
		kind = "actions"
	}
	return Reply{
		"type":        kind,
		"text":        q.Text,
		"callback_id": q.CallbackID,
		"actions":     actions,
	}
}

// AttachmentVisitorReply mirrors a visitor upload back to the visitor.
type AttachmentVisitorReply struct {
	Text       string
	Attachment *Attachment
}

func (r AttachmentVisitorReply) ToWebDriver() Reply {
	var attachment any
	if r.Attachment != nil {
		attachment = r.Attachment.WireForm()
	}
	return Reply{
		"type":       "text",
		"from":       "visitor",
		"text":       r.Text,
		"attachment": attachment,
	}
}
