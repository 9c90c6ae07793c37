package types

// EffectKind names a notification the core asks collaborators to deliver.
type EffectKind string

const (
	EffectInvoiceSent         EffectKind = "invoiceSent"
	EffectPaymentReminder     EffectKind = "paymentReminder"
	EffectOverdueNotice       EffectKind = "overdueNotice"
	EffectPaymentConfirmation EffectKind = "paymentConfirmation"
	EffectTrialStarted        EffectKind = "trialStarted"
)
