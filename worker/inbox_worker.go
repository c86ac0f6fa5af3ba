package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"dealflow/config"
	"dealflow/models"
	"dealflow/utils"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// InboxWorker polls the shared reply mailbox over IMAP and feeds every new
// message into the inbound correlator. It is a second inbound source next
// to the webhook; both paths dedupe on the provider message id.
type InboxWorker struct {
	Correlator *utils.Correlator
	Logger     *log.Logger
	Interval   time.Duration

	cfg config.IMAPConfig
}

func NewInboxWorker(correlator *utils.Correlator, cfg config.IMAPConfig, logger *log.Logger) *InboxWorker {
	return &InboxWorker{
		Correlator: correlator,
		Logger:     logger,
		Interval:   5 * time.Minute,
		cfg:        cfg,
	}
}

func (iw *InboxWorker) Start(ctx context.Context) {
	iw.Logger.Println("Starting inbox worker...")
	ticker := time.NewTicker(iw.Interval)

	for {
		select {
		case <-ticker.C:
			if err := iw.fetchReplies(); err != nil {
				iw.Logger.Printf("Inbox fetch failed: %v", err)
			}
		case <-ctx.Done():
			iw.Logger.Println("Stopping inbox worker...")
			ticker.Stop()
			return
		}
	}
}

func (iw *InboxWorker) fetchReplies() error {
	var imapClient *client.Client
	var err error
	imapAddr := fmt.Sprintf("%s:%d", iw.cfg.Host, iw.cfg.Port)

	switch strings.ToUpper(iw.cfg.Encryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(imapAddr, &tls.Config{
			ServerName: iw.cfg.Host,
		})
	case "STARTTLS":
		imapClient, err = client.Dial(imapAddr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{
				ServerName: iw.cfg.Host,
			})
		}
	default:
		imapClient, err = client.Dial(imapAddr)
	}

	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(iw.cfg.Username, iw.cfg.Password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %v", err)
	}

	mailbox := iw.cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}

	if _, err := imapClient.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %v", err)
	}

	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY[]")}, messages)
	}()

	for msg := range messages {
		if err := iw.processMessage(msg); err != nil {
			iw.Logger.Printf("Failed to process message %d: %v", msg.SeqNum, err)
			continue
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %v", err)
	}

	return nil
}

func (iw *InboxWorker) processMessage(msg *imap.Message) error {
	if msg.Envelope == nil {
		return fmt.Errorf("message has no envelope")
	}

	var bodyText string
	if msg.Body != nil {
		section := imap.BodySectionName{}
		literal, ok := msg.Body[&section]
		if ok {
			mr, err := mail.CreateReader(literal)
			if err != nil {
				return fmt.Errorf("failed to create message reader: %v", err)
			}

			for {
				p, err := mr.NextPart()
				if err == io.EOF {
					break
				} else if err != nil {
					return fmt.Errorf("failed to read next part: %v", err)
				}

				if h, ok := p.Header.(*mail.InlineHeader); ok {
					contentType, _, _ := h.ContentType()
					if strings.Contains(contentType, "text/plain") {
						b, err := io.ReadAll(p.Body)
						if err != nil {
							return fmt.Errorf("failed to read body: %v", err)
						}
						bodyText = string(b)
					}
				}
			}
		}
	}

	inbound := models.InboundMessage{
		Provider:          "imap",
		Channel:           models.ChannelEmail,
		SenderIdentity:    firstAddress(msg.Envelope.From),
		RecipientIdentity: firstAddress(msg.Envelope.To),
		Subject:           msg.Envelope.Subject,
		Body:              bodyText,
		ProviderMessageID: msg.Envelope.MessageId,
	}

	_, err := iw.Correlator.OnInboundReceived(&inbound)
	return err
}

func firstAddress(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	return addrs[0].Address()
}
