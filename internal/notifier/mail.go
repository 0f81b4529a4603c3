package notifier

import (
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasttemplate"
	"gopkg.in/gomail.v2"

	"github.com/dushixiang/argus/internal/config"
)

// bodyTemplate 邮件正文模板
const bodyTemplate = `{{detail}}

--
Argus Agent on {{hostname}}
{{time}}`

// MailNotifier 基于 SMTP 的告警传输实现
type MailNotifier struct {
	cfg      config.AlertConfig
	template *fasttemplate.Template
	hostname string
}

// NewMailNotifier 创建邮件告警传输
func NewMailNotifier(cfg config.AlertConfig) *MailNotifier {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &MailNotifier{
		cfg:      cfg,
		template: fasttemplate.New(bodyTemplate, "{{", "}}"),
		hostname: hostname,
	}
}

// Send 发送一封告警邮件
func (n *MailNotifier) Send(subject, detail string) error {
	body := n.template.ExecuteString(map[string]interface{}{
		"detail":   detail,
		"hostname": n.hostname,
		"time":     time.Now().Format("2006-01-02 15:04:05"),
	})

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.Sender)
	m.SetHeader("To", n.cfg.Recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(n.cfg.SMTP.Host, n.cfg.SMTP.Port, n.cfg.SMTP.Username, n.cfg.SMTP.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("发送邮件失败 (%s:%d): %w", n.cfg.SMTP.Host, n.cfg.SMTP.Port, err)
	}
	return nil
}
