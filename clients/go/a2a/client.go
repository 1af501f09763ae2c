// Package a2a provides a client for the A2A agent ledger: signed requests,
// end-to-end encrypted messages and directory lookups.
package a2a

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/OfficialDeepSwap/A2A/internal/crypto"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

// DefaultBaseURL is used when no server URL is given.
const DefaultBaseURL = "http://localhost:8080"

// Client is an A2A API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
	HTTPClient *http.Client
}

// Config holds agent configuration.
type Config struct {
	Address   models.Address `json:"address"`
	PublicKey string         `json:"public_key"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("A2A error %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("A2A error %d: %s", e.Status, e.Message)
}

// NewClient creates a new A2A client and loads saved credentials if any.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	configDir := os.Getenv("A2A_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".a2a")
	}

	c := &Client{
		BaseURL:    baseURL,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// Address is the agent id derived from the signing key.
func (c *Client) Address() models.Address {
	return crypto.AddressFromPublicKey(c.PublicKey)
}

// LoadConfig loads agent credentials from disk.
func (c *Client) LoadConfig() error {
	keyData, err := os.ReadFile(filepath.Join(c.ConfigDir, "private.key"))
	if err != nil {
		return err
	}

	seed, err := base64.StdEncoding.DecodeString(string(keyData))
	if err != nil {
		return err
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("private.key: want %d byte seed, got %d", ed25519.SeedSize, len(seed))
	}

	c.PrivateKey = ed25519.NewKeyFromSeed(seed)
	c.PublicKey = c.PrivateKey.Public().(ed25519.PublicKey)
	return nil
}

// SaveConfig saves agent credentials to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	config := Config{
		Address:   c.Address(),
		PublicKey: base64.StdEncoding.EncodeToString(c.PublicKey),
	}

	data, _ := json.MarshalIndent(config, "", "  ")
	if err := os.WriteFile(filepath.Join(c.ConfigDir, "agent.json"), data, 0600); err != nil {
		return err
	}

	keyData := base64.StdEncoding.EncodeToString(c.PrivateKey.Seed())
	return os.WriteFile(filepath.Join(c.ConfigDir, "private.key"), []byte(keyData), 0600)
}

// GenerateKeypair generates a new Ed25519 keypair.
func (c *Client) GenerateKeypair() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	c.PublicKey = pub
	c.PrivateKey = priv
	return nil
}

// signRequest creates authentication headers for a request.
func (c *Client) signRequest(body []byte) http.Header {
	bodyHash := hex.EncodeToString(crypto.Keccak256(body))
	nonce := crypto.NewNonce()
	timestamp := time.Now().UnixMilli()

	sig := ed25519.Sign(c.PrivateKey, crypto.SignaturePayload(bodyHash, nonce, timestamp))

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("X-A2A-Key", base64.StdEncoding.EncodeToString(c.PublicKey))
	headers.Set("X-A2A-Nonce", nonce)
	headers.Set("X-A2A-Timestamp", strconv.FormatInt(timestamp, 10))
	headers.Set("X-A2A-Signature", base64.StdEncoding.EncodeToString(sig))
	return headers
}

// do performs an HTTP request and decodes the JSON response into out.
func (c *Client) do(method, path string, in, out interface{}, signed bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	if signed {
		if c.PrivateKey == nil {
			return fmt.Errorf("no agent key: register or load credentials first")
		}
		req.Header = c.signRequest(body)
	} else {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		json.Unmarshal(respBody, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// RegisterRequest is the request body for agent registration.
type RegisterRequest struct {
	Name         string   `json:"name"`
	PublicKey    string   `json:"public_key"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// RegisterResponse is the response from agent registration.
type RegisterResponse struct {
	ID         string `json:"id"`
	ProfileURL string `json:"profile_url"`
}

// Register creates a keypair if the client has none, registers it under
// name and saves the credentials.
func (c *Client) Register(name string, capabilities []string) (*RegisterResponse, error) {
	if c.PrivateKey == nil {
		if err := c.GenerateKeypair(); err != nil {
			return nil, err
		}
	}

	req := RegisterRequest{
		Name:         name,
		PublicKey:    base64.StdEncoding.EncodeToString(c.PublicKey),
		Capabilities: capabilities,
	}

	var resp RegisterResponse
	if err := c.do(http.MethodPost, "/register", req, &resp, true); err != nil {
		return nil, err
	}
	if err := c.SaveConfig(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAgent gets an agent record.
func (c *Client) GetAgent(id models.Address) (*models.Agent, error) {
	var agent models.Agent
	if err := c.do(http.MethodGet, "/agents/"+id.Hex(), nil, &agent, false); err != nil {
		return nil, err
	}
	return &agent, nil
}

// LookupName resolves an agent name.
func (c *Client) LookupName(name string) (models.Address, error) {
	var resp struct {
		ID models.Address `json:"id"`
	}
	if err := c.do(http.MethodGet, "/agents/by-name/"+url.PathEscape(name), nil, &resp, false); err != nil {
		return models.Address{}, err
	}
	return resp.ID, nil
}

type agentList struct {
	Agents []models.Address `json:"agents"`
}

// ListAgents lists active agents in registration order.
func (c *Client) ListAgents() ([]models.Address, error) {
	var resp agentList
	if err := c.do(http.MethodGet, "/agents", nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// Search lists active agents advertising capability.
func (c *Client) Search(capability string) ([]models.Address, error) {
	var resp agentList
	if err := c.do(http.MethodGet, "/agents/search?capability="+url.QueryEscape(capability), nil, &resp, false); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// UpdateCapabilities replaces the caller's capability list.
func (c *Client) UpdateCapabilities(capabilities []string) (*models.Agent, error) {
	var agent models.Agent
	req := map[string][]string{"capabilities": capabilities}
	if err := c.do(http.MethodPut, "/agents/me", req, &agent, true); err != nil {
		return nil, err
	}
	return &agent, nil
}

// SetActive deactivates or reactivates the caller.
func (c *Client) SetActive(active bool) error {
	path := "/agents/me/deactivate"
	if active {
		path = "/agents/me/reactivate"
	}
	return c.do(http.MethodPost, path, nil, nil, true)
}

// SendOptions tunes a sent message.
type SendOptions struct {
	TTL  time.Duration // zero means the message never expires
	Type models.MessageType
}

type sendRequest struct {
	Recipient        models.Address     `json:"recipient"`
	EncryptedContent []byte             `json:"encrypted_content"`
	ContentHash      models.Hash        `json:"content_hash"`
	TTLSeconds       uint64             `json:"ttl_seconds"`
	Type             models.MessageType `json:"type"`
}

// SendResponse identifies a sent message.
type SendResponse struct {
	ID       models.Hash `json:"id"`
	ThreadID models.Hash `json:"thread_id"`
}

// Send encrypts plaintext for the recipient's registered public key and
// routes it.
func (c *Client) Send(recipient models.Address, plaintext []byte, opts SendOptions) (*SendResponse, error) {
	agent, err := c.GetAgent(recipient)
	if err != nil {
		return nil, err
	}
	pub, err := base64.StdEncoding.DecodeString(agent.PublicKey)
	if err != nil {
		return nil, &CryptoError{Message: fmt.Sprintf("recipient public key is not base64: %v", err)}
	}
	sealed, err := EncryptMessage(plaintext, ed25519.PublicKey(pub))
	if err != nil {
		return nil, err
	}

	req := sendRequest{
		Recipient:        recipient,
		EncryptedContent: sealed,
		ContentHash:      ContentHash(plaintext),
		TTLSeconds:       uint64(opts.TTL / time.Second),
		Type:             opts.Type,
	}
	var resp SendResponse
	if err := c.do(http.MethodPost, "/messages", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unread returns the caller's unread messages in send order.
func (c *Client) Unread() ([]models.Message, error) {
	var resp struct {
		Records []models.Message `json:"records"`
	}
	if err := c.do(http.MethodGet, "/messages/unread?full=true", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// MarkRead marks a received message read.
func (c *Client) MarkRead(id models.Hash) error {
	return c.do(http.MethodPost, "/messages/"+id.Hex()+"/read", nil, nil, true)
}

// Open decrypts a received message and checks it against its content hash.
func (c *Client) Open(msg models.Message) ([]byte, error) {
	plaintext, err := DecryptMessage(msg.EncryptedContent, c.PrivateKey)
	if err != nil {
		return nil, err
	}
	if ContentHash(plaintext) != msg.ContentHash {
		return nil, &CryptoError{Message: "content hash mismatch"}
	}
	return plaintext, nil
}

// Thread is a conversation with its message ids in send order.
type Thread struct {
	Thread   models.Thread `json:"thread"`
	Messages []models.Hash `json:"messages"`
}

// GetThread returns the thread between the caller and other.
func (c *Client) GetThread(other models.Address) (*Thread, error) {
	var resp Thread
	if err := c.do(http.MethodGet, "/threads/"+c.Address().Hex()+"/"+other.Hex(), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Notifications returns the caller's events newer than after (a ULID, may
// be empty), newest first.
func (c *Client) Notifications(after string) ([]models.Event, error) {
	path := "/notifications"
	if after != "" {
		path += "?after=" + url.QueryEscape(after)
	}
	var resp struct {
		Events []models.Event `json:"events"`
	}
	if err := c.do(http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Region    string                 `json:"region,omitempty"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(http.MethodGet, "/health", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}
