package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/efektum/mystery-hours/cmd/formatters"
	"github.com/efektum/mystery-hours/cmd/notify"
)

// DefaultGraphBaseURL is the Microsoft Graph v1.0 endpoint
const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// APIError is a non-success response from the Graph API.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph %s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph %s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// GraphClient talks to the signed-in user's OneDrive and mailbox. The
// http.Client is expected to attach the bearer token.
type GraphClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewGraphClient creates a client for baseURL (DefaultGraphBaseURL if empty)
func NewGraphClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *GraphClient {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &GraphClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

type driveItem struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Folder json.RawMessage `json:"folder,omitempty"`
}

type childrenPage struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

func (c *GraphClient) childrenURL(parentID string) string {
	if parentID == "" {
		return c.baseURL + "/me/drive/root/children"
	}
	return c.baseURL + "/me/drive/items/" + url.PathEscape(parentID) + "/children"
}

// ListChildren returns every child of parentID, following @odata.nextLink.
func (c *GraphClient) ListChildren(ctx context.Context, parentID string) ([]Item, error) {
	var items []Item
	next := c.childrenURL(parentID)

	for next != "" {
		var page childrenPage
		if err := c.doJSON(ctx, http.MethodGet, next, nil, &page, http.StatusOK); err != nil {
			return nil, err
		}

		for _, it := range page.Value {
			items = append(items, Item{
				ID:       it.ID,
				Name:     it.Name,
				IsFolder: len(it.Folder) > 0 && string(it.Folder) != "null",
			})
		}
		next = page.NextLink
	}

	return items, nil
}

// CreateFolder creates name under parentID, failing if it already exists.
func (c *GraphClient) CreateFolder(ctx context.Context, parentID, name string) error {
	body := map[string]any{
		"name":                              name,
		"folder":                            map[string]any{},
		"@microsoft.graph.conflictBehavior": "fail",
	}
	return c.doJSON(ctx, http.MethodPost, c.childrenURL(parentID), body, nil, http.StatusCreated, http.StatusOK)
}

// UploadFile puts the file under parentID using its base name. This is the
// simple upload API, which Graph limits to 250 MB.
func (c *GraphClient) UploadFile(ctx context.Context, localPath, parentID string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	name := url.PathEscape(filepath.Base(localPath))
	target := c.baseURL + "/me/drive/root:/" + name + ":/content"
	if parentID != "" {
		target = c.baseURL + "/me/drive/items/" + url.PathEscape(parentID) + ":/" + name + ":/content"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", formatters.ContentType(localPath))

	return c.do(req, nil, http.StatusOK, http.StatusCreated)
}

type mailAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type mailAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentBytes string `json:"contentBytes"`
}

type mailBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type mailMessage struct {
	Subject                    string           `json:"subject"`
	Body                       mailBody         `json:"body"`
	ToRecipients               []mailAddress    `json:"toRecipients"`
	Attachments                []mailAttachment `json:"attachments,omitempty"`
	IsReadReceiptRequested     bool             `json:"isReadReceiptRequested"`
	IsDeliveryReceiptRequested bool             `json:"isDeliveryReceiptRequested"`
}

// SendMail sends msg from the signed-in mailbox with each attachment inlined
// as a base64 fileAttachment.
func (c *GraphClient) SendMail(ctx context.Context, msg notify.Message) error {
	m := mailMessage{
		Subject: msg.Subject,
		Body:    mailBody{ContentType: "HTML", Content: msg.HTMLBody},
	}

	for _, r := range msg.Recipients {
		var addr mailAddress
		addr.EmailAddress.Address = r
		m.ToRecipients = append(m.ToRecipients, addr)
	}

	for _, p := range msg.Attachments {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read attachment %s: %w", p, err)
		}
		m.Attachments = append(m.Attachments, mailAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         filepath.Base(p),
			ContentBytes: base64.StdEncoding.EncodeToString(data),
		})
	}

	payload := map[string]any{"message": m}
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/me/sendMail", payload, nil, http.StatusAccepted)
}

func (c *GraphClient) doJSON(ctx context.Context, method, target string, in, out any, expected ...int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, out, expected...)
}

func (c *GraphClient) do(req *http.Request, out any, expected ...int) error {
	c.logger.Debug("Graph request", "method", req.Method, "url", req.URL.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	for _, code := range expected {
		if resp.StatusCode != code {
			continue
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{
		Method:     req.Method,
		URL:        req.URL.Path,
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
	}
	var graphErr struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &graphErr) == nil && graphErr.Error.Code != "" {
		apiErr.Code = graphErr.Error.Code
		apiErr.Message = graphErr.Error.Message
	}
	return apiErr
}
