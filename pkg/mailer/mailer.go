// Package mailer はメール送信の抽象化とSendGrid実装を提供する。
package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ErrNotConfigured はメール送信が設定されていないことを表す。
var ErrNotConfigured = errors.New("メール送信が設定されていません")

// Message は送信するメールの内容。
type Message struct {
	// ToEmail は宛先メールアドレス。
	ToEmail string
	// ToName は宛先の表示名。
	ToName string
	// Subject は件名。
	Subject string
	// Text はプレーンテキスト本文。
	Text string
	// HTML はHTML本文。空の場合はテキスト本文のみ送信する。
	HTML string
}

// Mailer はメール送信を行うインターフェース。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// sendClient はSendGridクライアントのうち使用するメソッドのみを定義する。
type sendClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*sendgridResponse, error)
}

// sendgridResponse はSendGridのレスポンスから必要な値のみを保持する。
type sendgridResponse struct {
	StatusCode int
	Body       string
}

// sdkClient はsendgrid.ClientをsendClientインターフェースに適合させる。
type sdkClient struct {
	client *sendgrid.Client
}

func (s sdkClient) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*sendgridResponse, error) {
	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return nil, err
	}
	return &sendgridResponse{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// SendGrid はSendGridを使用したMailer実装。
type SendGrid struct {
	client    sendClient
	fromEmail string
	fromName  string
}

// NewSendGrid はSendGridのMailerを生成する。
func NewSendGrid(apiKey, fromEmail, fromName string) (*SendGrid, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if fromEmail == "" {
		return nil, errors.New("送信元メールアドレスが必要です")
	}
	return &SendGrid{
		client:    sdkClient{client: sendgrid.NewSendClient(apiKey)},
		fromEmail: fromEmail,
		fromName:  fromName,
	}, nil
}

// Send はSendGrid経由でメールを送信する。2xx以外のステータスはエラーとして扱う。
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	if msg.ToEmail == "" {
		return errors.New("宛先メールアドレスが必要です")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	email := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)

	resp, err := s.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("SendGridへの送信に失敗: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("SendGridがエラーを返却: status=%d, body=%s", resp.StatusCode, resp.Body)
	}
	return nil
}

// Noop は何も送信しないMailer実装。メール送信が未設定の環境で使用する。
type Noop struct{}

// Send は何もせずnilを返す。
func (Noop) Send(context.Context, Message) error { return nil }

// New はAPIキーが設定されていればSendGrid、そうでなければNoopを返す。
func New(apiKey, fromEmail, fromName string) (Mailer, error) {
	if apiKey == "" {
		return Noop{}, nil
	}
	return NewSendGrid(apiKey, fromEmail, fromName)
}
