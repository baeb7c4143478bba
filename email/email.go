package email

import (
	"fmt"
	"log"
	"net/smtp"
	"os"
)

func send(to, subject, body string) error {
	host := os.Getenv("SMTP_HOST")
	port := os.Getenv("SMTP_PORT")
	user := os.Getenv("SMTP_USER")
	pass := os.Getenv("SMTP_PASS")
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = user
	}
	if host == "" || port == "" || user == "" || pass == "" || from == "" {
		return fmt.Errorf("SMTP environment variables missing")
	}
	addr := fmt.Sprintf("%s:%s", host, port)
	auth := smtp.PlainAuth("", user, pass, host)
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body))
	return smtp.SendMail(addr, auth, from, []string{to}, msg)
}

func SendWelcome(to string) error {
	subject := "Welcome to Kind Friend"
	body := "Thanks for signing up. Your companion is ready whenever you are."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] welcome sent to %s", to)
	return nil
}

func SendPasswordChanged(to string) error {
	subject := "Your password was changed"
	body := "Your password has been updated. If this wasn't you, contact support right away."
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] password change notification sent to %s", to)
	return nil
}

// SendPasswordReset emails the password recovery link
func SendPasswordReset(to, resetLink string) error {
	subject := "Reset your Kind Friend password"
	body := fmt.Sprintf(`Hi,

We received a request to reset your password.

Follow this link to choose a new one:
%s

The link expires in 1 hour.

If you didn't ask for this, you can ignore this email.`, resetLink)
	if err := send(to, subject, body); err != nil {
		return err
	}
	log.Printf("[EMAIL] password reset sent to %s", to)
	return nil
}
