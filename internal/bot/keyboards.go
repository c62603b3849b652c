package bot

import (
	"strconv"

	tele "gopkg.in/telebot.v4"

	"remindbot/internal/reminder"
	"remindbot/pkg/tgui"
)

// cbScope prefixes every inline callback of the bot ("rem:<action>:<payload>").
const cbScope = "rem"

// Callback actions. Payload is the reminder id unless noted.
const (
	cbCat      = "cat"    // payload: category value (create dialog)
	cbRec      = "rec"    // payload: recurrence value (create dialog)
	cbNotify   = "nb"     // payload: minutes before (create dialog)
	cbCancel   = "cancel" // no payload, aborts the dialog
	cbDone     = "done"
	cbDelete   = "del"
	cbNotify15 = "n15"
	cbView     = "view"
	cbEdit     = "edit"
	cbEditText = "etext"
	cbEditTime = "etime"
	cbEditRec  = "erec"  // show recurrence picker
	cbEditCat  = "ecat"  // show category picker
	cbSetRec   = "erecv" // payload: "<id>:<recurrence>"
	cbSetCat   = "ecatv" // payload: "<id>:<category>"
	cbList     = "list"
	cbNew      = "new"
	cbStats    = "stats"
)

// Main-menu button labels double as message routes: a tap arrives as a
// plain text message with exactly this text.
const (
	btnCreate    = "📝 New reminder"
	btnList      = "📋 My reminders"
	btnRecurring = "🔄 Recurring"
	btnStats     = "📊 Stats"
	btnHelp      = "ℹ️ Help"
)

func mainMenu() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(
		rm.Row(tele.Btn{Text: btnCreate}, tele.Btn{Text: btnList}),
		rm.Row(tele.Btn{Text: btnRecurring}, tele.Btn{Text: btnStats}),
		rm.Row(tele.Btn{Text: btnHelp}),
	)
	return rm
}

// repeatOptions is the recurrence picker of the create dialog, one option
// per row plus a cancel row.
func repeatOptions() *tele.ReplyMarkup {
	kb := tgui.NewInline()
	for _, r := range reminder.RecurrenceOrder {
		kb.Row(tgui.Btn(reminder.RecurrenceLabels[r], tgui.Data(cbScope, cbRec, string(r))))
	}
	kb.Row(tgui.Btn("❌ Cancel", tgui.Data(cbScope, cbCancel, "")))
	return kb.Markup()
}

// categoryOptions is the category picker of the create dialog: a 2-column
// grid plus a cancel row.
func categoryOptions() *tele.ReplyMarkup {
	buttons := make([]tele.Btn, 0, len(reminder.CategoryOrder))
	for _, c := range reminder.CategoryOrder {
		buttons = append(buttons, tgui.Btn(reminder.CategoryLabels[c], tgui.Data(cbScope, cbCat, string(c))))
	}
	rm := &tele.ReplyMarkup{}
	rows := rm.Split(2, buttons)
	rows = append(rows, rm.Row(tgui.Btn("❌ Cancel", tgui.Data(cbScope, cbCancel, ""))))
	rm.Inline(rows...)
	return rm
}

// notifyOptions asks how long before a recurring reminder to pre-notify.
func notifyOptions() *tele.ReplyMarkup {
	kb := tgui.NewInline()
	kb.Row(
		tgui.Btn("15 minutes before", tgui.Data(cbScope, cbNotify, "15")),
		tgui.Btn("30 minutes before", tgui.Data(cbScope, cbNotify, "30")),
	)
	kb.Row(
		tgui.Btn("60 minutes before", tgui.Data(cbScope, cbNotify, "60")),
		tgui.Btn("No notification", tgui.Data(cbScope, cbNotify, "0")),
	)
	kb.Row(tgui.Btn("❌ Cancel", tgui.Data(cbScope, cbCancel, "")))
	return kb.Markup()
}

// reminderActions is the per-reminder control panel shown under details.
func reminderActions(id int64) *tele.ReplyMarkup {
	p := strconv.FormatInt(id, 10)
	kb := tgui.NewInline()
	kb.Row(
		tgui.Btn("✅ Done", tgui.Data(cbScope, cbDone, p)),
		tgui.Btn("✏️ Edit", tgui.Data(cbScope, cbEdit, p)),
	)
	kb.Row(
		tgui.Btn("🔔 Notify 15 min before", tgui.Data(cbScope, cbNotify15, p)),
		tgui.Btn("❌ Delete", tgui.Data(cbScope, cbDelete, p)),
	)
	kb.Row(tgui.Btn("📋 Back to list", tgui.Data(cbScope, cbList, "")))
	return kb.Markup()
}

func editOptions(id int64) *tele.ReplyMarkup {
	p := strconv.FormatInt(id, 10)
	kb := tgui.NewInline()
	kb.Row(
		tgui.Btn("✏️ Text", tgui.Data(cbScope, cbEditText, p)),
		tgui.Btn("📅 Time", tgui.Data(cbScope, cbEditTime, p)),
	)
	kb.Row(
		tgui.Btn("🔄 Repeat", tgui.Data(cbScope, cbEditRec, p)),
		tgui.Btn("📂 Category", tgui.Data(cbScope, cbEditCat, p)),
	)
	kb.Row(tgui.Btn("📋 Back", tgui.Data(cbScope, cbView, p)))
	return kb.Markup()
}

// recurrencePicker lets the user change the repeat of an existing reminder.
func recurrencePicker(id int64) *tele.ReplyMarkup {
	p := strconv.FormatInt(id, 10)
	kb := tgui.NewInline()
	for _, r := range reminder.RecurrenceOrder {
		kb.Row(tgui.Btn(reminder.RecurrenceLabels[r], tgui.Data(cbScope, cbSetRec, p+":"+string(r))))
	}
	kb.Row(tgui.Btn("📋 Back", tgui.Data(cbScope, cbView, p)))
	return kb.Markup()
}

// categoryPicker lets the user change the category of an existing reminder.
func categoryPicker(id int64) *tele.ReplyMarkup {
	p := strconv.FormatInt(id, 10)
	buttons := make([]tele.Btn, 0, len(reminder.CategoryOrder))
	for _, c := range reminder.CategoryOrder {
		buttons = append(buttons, tgui.Btn(reminder.CategoryLabels[c], tgui.Data(cbScope, cbSetCat, p+":"+string(c))))
	}
	rm := &tele.ReplyMarkup{}
	rows := rm.Split(2, buttons)
	rows = append(rows, rm.Row(tgui.Btn("📋 Back", tgui.Data(cbScope, cbView, p))))
	rm.Inline(rows...)
	return rm
}

// listActions sits under the reminder list.
func listActions() *tele.ReplyMarkup {
	kb := tgui.NewInline()
	kb.Row(tgui.Btn("📝 Create new", tgui.Data(cbScope, cbNew, "")))
	kb.Row(tgui.Btn("📊 Stats", tgui.Data(cbScope, cbStats, "")))
	return kb.Markup()
}

func backToList() *tele.ReplyMarkup {
	kb := tgui.NewInline()
	kb.Row(tgui.Btn("📋 Back to list", tgui.Data(cbScope, cbList, "")))
	return kb.Markup()
}

func backToReminder(id int64) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	kb.Row(tgui.Btn("📋 Back to reminder", tgui.Data(cbScope, cbView, strconv.FormatInt(id, 10))))
	return kb.Markup()
}
