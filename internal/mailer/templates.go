package mailer

import "github.com/baechuer/sofauth/internal/config"

// Built-in templates, keyed the way the user service sends them. Overridable
// per key via config.Emails. Render data carries `user`, `token` and `url`.
var defaultTemplates = map[string]config.EmailTemplate{
	"confirmEmail": {
		Subject: "Please confirm your email",
		Format:  "html",
		Template: `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>Confirm Your Email</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h1 style="color: #4CAF50;">Confirm Your Email Address</h1>
		<p>Hello,</p>
		<p>Thank you for signing up! Please confirm your email address by clicking the button below:</p>
		<div style="text-align: center; margin: 30px 0;">
			<a href="{{.url}}" style="background-color: #4CAF50; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Confirm Email</a>
		</div>
		<p>Or copy and paste this link into your browser:</p>
		<p style="word-break: break-all; color: #666;">{{.url}}</p>
		<p>If you didn't create an account, please ignore this email.</p>
		<hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;">
		<p style="color: #999; font-size: 12px;">This is an automated message, please do not reply.</p>
	</div>
</body>
</html>`,
	},
	"forgotPassword": {
		Subject: "Your password reset link",
		Format:  "html",
		Template: `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>Reset Your Password</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
	<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
		<h1 style="color: #2196F3;">Reset Your Password</h1>
		<p>Hello,</p>
		<p>We received a request to reset your password. Click the button below to create a new password:</p>
		<div style="text-align: center; margin: 30px 0;">
			<a href="{{.url}}" style="background-color: #2196F3; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Reset Password</a>
		</div>
		<p>Or copy and paste this link into your browser:</p>
		<p style="word-break: break-all; color: #666;">{{.url}}</p>
		<p>If you didn't request a password reset, please ignore this email. Your password will remain unchanged.</p>
		<hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;">
		<p style="color: #999; font-size: 12px;">This is an automated message, please do not reply.</p>
	</div>
</body>
</html>`,
	},
}
