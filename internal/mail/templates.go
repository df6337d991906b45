package mail

import (
	"fmt"

	"github.com/aymerick/raymond"
)

var (
	otpSubject = raymond.MustParse(`{{appName}} verification code`)
	otpText    = raymond.MustParse(`Hello,

Your {{appName}} verification code is {{code}}.
It expires in {{minutes}} minutes. If you did not request it, ignore this email.
`)
	otpHTML = raymond.MustParse(`<!doctype html>
<html><body style="font-family:sans-serif">
<p>Hello,</p>
<p>Your {{appName}} verification code is</p>
<p style="font-size:24px;letter-spacing:4px"><strong>{{code}}</strong></p>
<p>It expires in {{minutes}} minutes. If you did not request it, ignore this email.</p>
</body></html>
`)
)

// OTPData is the template context of the verification code email.
type OTPData struct {
	AppName string
	Code    string
	Minutes int
}

// RenderOTP builds the verification code email for to.
func RenderOTP(to string, data OTPData) (Message, error) {
	ctx := map[string]any{
		"appName": data.AppName,
		"code":    data.Code,
		"minutes": data.Minutes,
	}
	subject, err := otpSubject.Exec(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("render otp subject: %w", err)
	}
	text, err := otpText.Exec(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("render otp text: %w", err)
	}
	html, err := otpHTML.Exec(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("render otp html: %w", err)
	}
	return Message{To: to, Subject: subject, Text: text, HTML: html}, nil
}
