package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/tgui"
)

const timeExamples = "Examples:\n" +
	"• in 2 hours\n" +
	"• tomorrow at 15:00\n" +
	"• in 30 minutes\n" +
	"• 25.12.2026 at 10:00"

const welcomeText = `Hi! 👋

I am a reminder bot. I can:

📝 Create reminders with categories
🔄 Handle recurring reminders
🔔 Notify you ahead of events
📊 Show your statistics
✏️ Edit and delete reminders

Use the buttons below or the commands:
/remind - create a reminder
/list - show your reminders
/stats - show statistics
/help - help`

const helpText = `🤖 <b>How to use the bot:</b>

<b>📝 Creating a reminder:</b>
1. Tap "📝 New reminder"
2. Send the reminder text
3. Send the time as text
4. Pick a category
5. Pick a repeat (optional)
6. Pick an advance notification (recurring only)

<b>📋 Managing reminders:</b>
- Tap "📋 My reminders" to see them all
- Use the buttons under each reminder

<b>🔄 Recurring reminders:</b>
- Daily, weekly, monthly, yearly
- Recreated automatically after each run

<b>🔔 Advance notifications:</b>
- Get pinged 15, 30 or 60 minutes before the event

<b>Quick command examples:</b>
"remind call mom in 2 hours"
"remind standup tomorrow at 9:30"`

func htmlOpts(rm *tele.ReplyMarkup) *kit.SendOptions {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if rm != nil {
		opt.ReplyMarkupAdapter = rm
	}
	return opt
}

func (s *Service) key(req *Request) sessKey {
	return sessKey{ChatID: req.Chat.ChatID, UserID: req.FromID}
}

func (s *Service) reply(ctx context.Context, req *Request, text string, rm *tele.ReplyMarkup) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, htmlOpts(rm))
	return err
}

// edit rewrites the message the callback button was attached to; falls back
// to a fresh message when the update is not a callback.
func (s *Service) edit(ctx context.Context, req *Request, text string, rm *tele.ReplyMarkup) error {
	cb := req.Update.Callback
	if cb == nil {
		return s.reply(ctx, req, text, rm)
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	return req.Adapter.EditText(ctx, ref, text, htmlOpts(rm))
}

func (s *Service) publish(topic string, id int64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Topic: topic, Data: id})
}

// Commands

func (s *Service) handleStart(ctx context.Context, req *Request) error {
	s.sess.clear(s.key(req))
	return s.reply(ctx, req, welcomeText, mainMenu())
}

func (s *Service) handleHelp(ctx context.Context, req *Request) error {
	return s.reply(ctx, req, helpText, nil)
}

func (s *Service) handleRemind(ctx context.Context, req *Request) error {
	s.sess.put(s.key(req), &session{Step: stepText})
	return s.reply(ctx, req, "📝 What should I remind you about? Send the text:", nil)
}

func (s *Service) handleList(ctx context.Context, req *Request) error {
	rs, err := s.store.ListByOwner(ctx, req.FromID, reminder.StatusActive)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}
	var rm *tele.ReplyMarkup
	if len(rs) > 0 {
		rm = listActions()
	}
	return s.reply(ctx, req, s.format.List(rs), rm)
}

func (s *Service) handleStats(ctx context.Context, req *Request) error {
	st, err := s.store.Stats(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	return s.reply(ctx, req, s.format.Stats(st), nil)
}

func (s *Service) handleCancel(ctx context.Context, req *Request) error {
	s.sess.clear(s.key(req))
	return s.reply(ctx, req, "Dialog cancelled.", mainMenu())
}

// Plain text: menu buttons, dialog input, quick reminders.

func (s *Service) handleText(ctx context.Context, req *Request) error {
	text := strings.TrimSpace(req.Update.Message.Text)

	switch text {
	case btnCreate:
		return s.handleRemind(ctx, req)
	case btnList:
		return s.handleList(ctx, req)
	case btnStats:
		return s.handleStats(ctx, req)
	case btnHelp:
		return s.handleHelp(ctx, req)
	case btnRecurring:
		return s.reply(ctx, req,
			"🔄 To create a recurring reminder, tap \"📝 New reminder\" and pick a repeat during the dialog.",
			mainMenu())
	}

	if sess := s.sess.get(s.key(req)); sess != nil {
		return s.handleDialogText(ctx, req, sess, text)
	}

	if strings.HasPrefix(strings.ToLower(text), "remind ") {
		return s.handleQuick(ctx, req, text[len("remind "):])
	}

	return s.reply(ctx, req, "Use the menu buttons or send /help.", mainMenu())
}

func (s *Service) handleDialogText(ctx context.Context, req *Request, sess *session, text string) error {
	switch sess.Step {
	case stepText:
		sess.Draft.Text = text
		sess.Step = stepTime
		return s.reply(ctx, req, "⏰ When should I remind you?\n\n"+timeExamples, nil)

	case stepTime:
		at, err := s.parser.Parse(text, s.now())
		if err != nil {
			return s.reply(ctx, req,
				fmt.Sprintf("❌ I can't understand that time, try again!\nError: %s\n\n%s", tgui.Esc(err.Error()), timeExamples), nil)
		}
		if !at.After(s.now()) {
			return s.reply(ctx, req,
				"❌ That time has already passed, pick a future one!\n\n"+timeExamples, nil)
		}
		sess.Draft.FireAt = at
		sess.Step = stepCategory
		return s.reply(ctx, req, "📂 Pick a category:", categoryOptions())

	case stepEditText:
		r, err := s.ownedReminder(ctx, req, sess.EditID)
		if err != nil {
			s.sess.clear(s.key(req))
			return s.replyLookupError(ctx, req, err)
		}
		r.Text = text
		if err := s.store.Update(ctx, &r); err != nil {
			return fmt.Errorf("update reminder text: %w", err)
		}
		s.sess.clear(s.key(req))
		return s.reply(ctx, req, "✏️ Text updated!", backToReminder(r.ID))

	case stepEditTime:
		at, err := s.parser.Parse(text, s.now())
		if err != nil {
			return s.reply(ctx, req,
				fmt.Sprintf("❌ I can't understand that time, try again!\nError: %s\n\n%s", tgui.Esc(err.Error()), timeExamples), nil)
		}
		if !at.After(s.now()) {
			return s.reply(ctx, req,
				"❌ That time has already passed, pick a future one!\n\n"+timeExamples, nil)
		}
		r, err := s.ownedReminder(ctx, req, sess.EditID)
		if err != nil {
			s.sess.clear(s.key(req))
			return s.replyLookupError(ctx, req, err)
		}
		r.FireAt = at
		if err := s.store.Update(ctx, &r); err != nil {
			return fmt.Errorf("update reminder time: %w", err)
		}
		s.sched.Register(r)
		s.publish(eventbus.TopicReminderRescheduled, r.ID)
		s.sess.clear(s.key(req))
		return s.reply(ctx, req, "📅 Time updated to "+s.format.Stamp(at)+"!", backToReminder(r.ID))

	default:
		s.sess.clear(s.key(req))
		return s.reply(ctx, req, "Use the menu buttons or send /help.", mainMenu())
	}
}

// handleQuick creates a one-off reminder from a single message, e.g.
// "remind call mom in 2 hours".
func (s *Service) handleQuick(ctx context.Context, req *Request, rest string) error {
	body, phrase, ok := quickSplit(rest)
	if !ok {
		return s.reply(ctx, req,
			"❌ I couldn't find the time part.\n\nTry: \"remind call mom in 2 hours\"", nil)
	}
	at, err := s.parser.Parse(phrase, s.now())
	if err != nil {
		return s.reply(ctx, req,
			fmt.Sprintf("❌ I can't understand the time \"%s\".\n\n%s", tgui.Esc(phrase), timeExamples), nil)
	}
	if !at.After(s.now()) {
		return s.reply(ctx, req,
			"❌ That time has already passed, pick a future one!\n\n"+timeExamples, nil)
	}

	r := reminder.Reminder{
		Owner:  req.FromID,
		Text:   body,
		FireAt: at,
	}
	if err := s.createAndArm(ctx, &r); err != nil {
		return err
	}
	return s.reply(ctx, req, s.format.Created(r), nil)
}

// quickSplit separates "<text> <time phrase>" at the first time marker.
func quickSplit(rest string) (body, phrase string, ok bool) {
	rest = strings.TrimSpace(rest)
	lower := strings.ToLower(rest)

	if i := strings.Index(lower, " in "); i >= 0 {
		return strings.TrimSpace(rest[:i]), strings.TrimSpace(rest[i+1:]), rest[:i] != ""
	}
	for _, marker := range []string{"tomorrow", "today"} {
		if i := strings.Index(lower, marker); i >= 0 {
			body = strings.TrimSpace(rest[:i])
			return body, strings.TrimSpace(rest[i:]), body != ""
		}
	}
	return "", "", false
}

// createAndArm persists a new reminder and registers its timers.
func (s *Service) createAndArm(ctx context.Context, r *reminder.Reminder) error {
	if err := s.store.Create(ctx, r); err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	s.sched.Register(*r)
	s.publish(eventbus.TopicReminderCreated, r.ID)
	s.log.Info("reminder created",
		logx.Int64("reminder_id", r.ID), logx.Int64("owner", r.Owner),
		logx.Time("fire_at", r.FireAt), logx.String("recurrence", string(r.Recurrence)))
	return nil
}

// Callbacks

func (s *Service) handleCallback(ctx context.Context, req *Request, action, payload string) error {
	switch action {
	case cbCancel:
		s.sess.clear(s.key(req))
		return s.edit(ctx, req, "Reminder creation cancelled.", nil)
	case cbCat:
		return s.cbPickCategory(ctx, req, payload)
	case cbRec:
		return s.cbPickRecurrence(ctx, req, payload)
	case cbNotify:
		return s.cbPickNotify(ctx, req, payload)
	case cbDone:
		return s.cbComplete(ctx, req, payload)
	case cbDelete:
		return s.cbDelete(ctx, req, payload)
	case cbNotify15:
		return s.cbNotify15(ctx, req, payload)
	case cbView:
		return s.cbView(ctx, req, payload)
	case cbEdit:
		return s.cbEditMenu(ctx, req, payload)
	case cbEditText:
		return s.cbEditField(ctx, req, payload, stepEditText, "✏️ Send the new text:")
	case cbEditTime:
		return s.cbEditField(ctx, req, payload, stepEditTime, "📅 Send the new time.\n\n"+timeExamples)
	case cbEditRec:
		return s.cbEditPicker(ctx, req, payload, "🔄 Pick a new repeat:", recurrencePicker)
	case cbEditCat:
		return s.cbEditPicker(ctx, req, payload, "📂 Pick a new category:", categoryPicker)
	case cbSetRec:
		return s.cbSetRecurrence(ctx, req, payload)
	case cbSetCat:
		return s.cbSetCategory(ctx, req, payload)
	case cbList:
		return s.cbList(ctx, req)
	case cbNew:
		return s.edit(ctx, req, "Use the \"📝 New reminder\" button in the main menu.", nil)
	case cbStats:
		st, err := s.store.Stats(ctx, req.FromID)
		if err != nil {
			return fmt.Errorf("load stats: %w", err)
		}
		return s.edit(ctx, req, s.format.Stats(st), nil)
	default:
		return s.edit(ctx, req, "❌ Unknown action.", nil)
	}
}

// dialogExpired is the reply when a button from a stale dialog is pressed.
func (s *Service) dialogExpired(ctx context.Context, req *Request) error {
	return s.edit(ctx, req, "❌ This dialog has expired. Start again with /remind.", nil)
}

func (s *Service) cbPickCategory(ctx context.Context, req *Request, payload string) error {
	sess := s.sess.get(s.key(req))
	if sess == nil || sess.Step != stepCategory {
		return s.dialogExpired(ctx, req)
	}
	if !reminder.ValidCategory(payload) {
		return s.edit(ctx, req, "❌ Unknown category.", nil)
	}
	sess.Draft.Category = reminder.Category(payload)
	sess.Step = stepRecurrence
	return s.edit(ctx, req,
		"📂 Category: "+reminder.CategoryLabels[sess.Draft.Category]+"\n\n🔄 Should the reminder repeat?",
		repeatOptions())
}

func (s *Service) cbPickRecurrence(ctx context.Context, req *Request, payload string) error {
	sess := s.sess.get(s.key(req))
	if sess == nil || sess.Step != stepRecurrence {
		return s.dialogExpired(ctx, req)
	}
	if !reminder.ValidRecurrence(payload) {
		return s.edit(ctx, req, "❌ Unknown repeat option.", nil)
	}
	sess.Draft.Recurrence = reminder.Recurrence(payload)

	// One-off reminders save straight away; recurring ones get to choose
	// an advance notification first.
	if sess.Draft.Recurrence == reminder.RecurOnce {
		return s.saveDraft(ctx, req, sess)
	}
	sess.Step = stepNotify
	return s.edit(ctx, req,
		"🔄 Repeat: "+reminder.RecurrenceLabels[sess.Draft.Recurrence]+"\n\n🔔 Notify in advance?",
		notifyOptions())
}

func (s *Service) cbPickNotify(ctx context.Context, req *Request, payload string) error {
	sess := s.sess.get(s.key(req))
	if sess == nil || sess.Step != stepNotify {
		return s.dialogExpired(ctx, req)
	}
	mins, err := strconv.Atoi(payload)
	if err != nil || mins < 0 {
		return s.edit(ctx, req, "❌ Unknown notification option.", nil)
	}
	sess.Draft.NotifyBefore = mins
	return s.saveDraft(ctx, req, sess)
}

func (s *Service) saveDraft(ctx context.Context, req *Request, sess *session) error {
	r := sess.Draft
	r.Owner = req.FromID
	if err := s.createAndArm(ctx, &r); err != nil {
		return err
	}
	s.sess.clear(s.key(req))
	return s.edit(ctx, req, s.format.Created(r), nil)
}

// ownedReminder loads id and checks it belongs to the requesting user.
// Foreign reminders are indistinguishable from missing ones on purpose.
func (s *Service) ownedReminder(ctx context.Context, req *Request, id int64) (reminder.Reminder, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if r.Owner != req.FromID {
		return reminder.Reminder{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *Service) replyLookupError(ctx context.Context, req *Request, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return s.edit(ctx, req, "❌ Reminder not found!", nil)
	}
	return err
}

func parseID(payload string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
}

func (s *Service) cbComplete(ctx context.Context, req *Request, payload string) error {
	id, err := parseID(payload)
	if err != nil {
		return s.edit(ctx, req, "❌ Reminder not found!", nil)
	}
	if _, err := s.ownedReminder(ctx, req, id); err != nil {
		return s.replyLookupError(ctx, req, err)
	}
	if err := s.store.SetStatus(ctx, id, reminder.StatusCompleted); err != nil {
		return fmt.Errorf("complete reminder: %w", err)
	}
	s.sched.Cancel(id)
	s.publish(eventbus.TopicReminderCompleted, id)
	return s.edit(ctx, req, "✅ Reminder marked as done!", backToList())
}

func (s *Service) cbDelete(ctx context.Context, req *Request, payload string) error {
	id, err := parseID(payload)
	if err != nil {
		return s.edit(ctx, req, "❌ Reminder not found!", nil)
	}
	if _, err := s.ownedReminder(ctx, req, id); err != nil {
		return s.replyLookupError(ctx, req, err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	s.sched.Cancel(id)
	s.publish(eventbus.TopicReminderCancelled, id)
	return s.edit(ctx, req, "❌ Reminder deleted!", backToList())
}

func (s *Service) cbNotify15(ctx context.Context, req *Request, payload string) error {
	id, err := parseID(payload)
	if err != nil {
		return s.edit(ctx, req, "❌ Reminder not found!", nil)
	}
	r, err := s.ownedReminder(ctx, req, id)
	if err != nil {
		return s.replyLookupError(ctx, req, err)
	}
	r.NotifyBefore = 15
	if err := s.store.Update(ctx, &r); err != nil {
		return fmt.Errorf("set notify-before: %w", err)
	}
	s.sched.Register(r)
	return s.edit(ctx, req, "🔔 You will be notified 15 minutes before!", backToReminder(id))
}

func (s *Service) cbView(ctx context.Context, req *Request, payload string) error {
	id, err := parseID(payload)
	if err != nil {
		return s.edit(ctx, req, "❌ Reminder not found!", nil)
	}
	r, err := s.ownedReminder(ctx, req, id)
	if err != nil {
		return s.replyLookupError(ctx, req, err)
	}
	return s.edit(ctx, req, s.format.Details(r), reminderActions(id))
}

func (s *Service) cbEditMenu(ctx context.Context, req *Request, payload string) error {
	id, err := parseID(payload)
	if err != nil {
		return s.edit(ctx, req, "❌ Reminder not found!", nil)
	}
	r, err := s.ownedReminder(ctx, req, id)
	if err != nil {
		return s.replyLookupError(ctx, req, err)
	}
	text := fmt.Sprintf("✏️ Editing reminder:\n\nText: %s\nTime: %s\n\nWhat do you want to change?",
		tgui.Esc(r.Text), s.format.Stamp(r.FireAt))
	return s.edit(ctx, req, text, editOptions(id))
}

func (s *Service) cbEditField(ctx context.Context, req *Request, payload string, st step, prompt string) error {
	id, err := parseID(payload)
	if err != nil {
		return s.edit(ctx, req, "❌ Reminder not found!", nil)
	}
	if _, err := s.ownedReminder(ctx, req, id); err != nil {
		return s.replyLookupError(ctx, req, err)
	}
	s.sess.put(s.key(req), &session{Step: st, EditID: id})
	return s.edit(ctx, req, prompt, nil)
}

func (s *Service) cbEditPicker(ctx context.Context, req *Request, payload, prompt string,
	picker func(int64) *tele.ReplyMarkup) error {
	id, err := parseID(payload)
	if err != nil {
		return s.edit(ctx, req, "❌ Reminder not found!", nil)
	}
	if _, err := s.ownedReminder(ctx, req, id); err != nil {
		return s.replyLookupError(ctx, req, err)
	}
	return s.edit(ctx, req, prompt, picker(id))
}

func (s *Service) cbSetRecurrence(ctx context.Context, req *Request, payload string) error {
	idPart, value, _ := strings.Cut(payload, ":")
	id, err := parseID(idPart)
	if err != nil || !reminder.ValidRecurrence(value) {
		return s.edit(ctx, req, "❌ Reminder not found!", nil)
	}
	r, err := s.ownedReminder(ctx, req, id)
	if err != nil {
		return s.replyLookupError(ctx, req, err)
	}
	r.Recurrence = reminder.Recurrence(value)
	if err := s.store.Update(ctx, &r); err != nil {
		return fmt.Errorf("update recurrence: %w", err)
	}
	return s.edit(ctx, req, s.format.Details(r), reminderActions(id))
}

func (s *Service) cbSetCategory(ctx context.Context, req *Request, payload string) error {
	idPart, value, _ := strings.Cut(payload, ":")
	id, err := parseID(idPart)
	if err != nil || !reminder.ValidCategory(value) {
		return s.edit(ctx, req, "❌ Reminder not found!", nil)
	}
	r, err := s.ownedReminder(ctx, req, id)
	if err != nil {
		return s.replyLookupError(ctx, req, err)
	}
	r.Category = reminder.Category(value)
	if err := s.store.Update(ctx, &r); err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	return s.edit(ctx, req, s.format.Details(r), reminderActions(id))
}

func (s *Service) cbList(ctx context.Context, req *Request) error {
	rs, err := s.store.ListByOwner(ctx, req.FromID, reminder.StatusActive)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}
	var rm *tele.ReplyMarkup
	if len(rs) > 0 {
		rm = listActions()
	}
	return s.edit(ctx, req, s.format.List(rs), rm)
}
