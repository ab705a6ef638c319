package services

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/smtp"

	"github.com/spf13/viper"
)

// Mailer delivers transactional email over SMTP with implicit TLS.
// Sends are retried once: registration must not fail outright because the
// mail provider hiccuped.
type Mailer struct {
	host     string
	port     string
	username string
	password string
	retries  int
}

func NewMailer(retries int) *Mailer {
	viper.SetDefault("smtp.host", "smtp.gmail.com")
	viper.SetDefault("smtp.port", "465")

	return &Mailer{
		host:     viper.GetString("smtp.host"),
		port:     viper.GetString("smtp.port"),
		username: viper.GetString("smtp.username"),
		password: viper.GetString("smtp.password"),
		retries:  retries,
	}
}

// SendOTP emails the one-time activation code.
func (m *Mailer) SendOTP(to, firstName, code string) error {
	subject := "Your Central City Bank Activation Code"
	body := fmt.Sprintf(`Dear %s,

Thank you for registering with Central City Bank.

Your one-time activation code is: %s

The code is valid for 5 minutes. If you did not request this, please ignore this email.

Best regards,
The Central City Bank Team`, firstName, code)

	return m.send(to, subject, body)
}

// SendWelcome emails the account details after activation.
func (m *Mailer) SendWelcome(to, firstName, accountNumber, accountType string) error {
	subject := "Welcome to Our Banking Service!"
	body := fmt.Sprintf(`Dear %s,

Welcome to Central City Bank! We are thrilled to have you on board.

Your account has been successfully activated. Below are your account details:

Account Number: %s
Account Type: %s
Initial Balance: $0.00

Please keep your account number confidential and secure. You can access your account online using your account number and the password you created during registration.

If you have any questions or need assistance, our customer support team is here to help you.

Best regards,

The Central City Bank Team`, firstName, accountNumber, accountType)

	return m.send(to, subject, body)
}

// SendPasswordReset emails a reset token.
func (m *Mailer) SendPasswordReset(to, firstName, token string) error {
	subject := "Password Reset Request"
	body := fmt.Sprintf(`Dear %s,

You are receiving this because you (or someone else) have requested the reset of the password for your account.

Use the following token to complete the process: %s

If you did not request this, please ignore this email and your password will remain unchanged.

Best regards,
The Central City Bank Team`, firstName, token)

	return m.send(to, subject, body)
}

func (m *Mailer) send(to, subject, body string) error {
	var err error
	for attempt := 0; attempt <= m.retries; attempt++ {
		if err = m.sendOnce(to, subject, body); err == nil {
			return nil
		}
		log.Printf("[MAIL] Send attempt %d failed: %v", attempt+1, err)
	}
	return err
}

func (m *Mailer) sendOnce(to, subject, body string) error {
	from := m.username
	msg := []byte(
		fmt.Sprintf("From: %s\r\n", from) +
			fmt.Sprintf("To: %s\r\n", to) +
			fmt.Sprintf("Subject: %s\r\n", subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=\"utf-8\"\r\n" +
			"\r\n" +
			body,
	)

	serverAddr := m.host + ":" + m.port

	// Implicit TLS for port 465
	tlsConfig := &tls.Config{
		ServerName: m.host,
	}

	conn, err := tls.Dial("tcp", serverAddr, tlsConfig)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		return err
	}
	defer client.Quit()

	auth := smtp.PlainAuth("", m.username, m.password, m.host)
	if err := client.Auth(auth); err != nil {
		return err
	}

	if err := client.Mail(from); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}
