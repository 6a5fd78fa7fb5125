package render

// Token is one placeholder of the template vocabulary. The placeholder
// spellings are stored inside every ping template and must never change.
type Token int

const (
	TokenPingID Token = iota
	TokenReminderTime
	TokenScheduledTime
	TokenExpireTime
	TokenDayNum
	TokenTemplateID
	TokenTemplateName
	TokenStudyID
	TokenStudyPublicName
	TokenStudyInternalName
	TokenStudyContactMsg
	TokenPID
	TokenEnrollmentID
	TokenSignupDate
	TokenPrCompleted
	TokenURL
)

// URLTokens are substituted into survey URLs, in replacement order.
var URLTokens = []Token{
	TokenPingID,
	TokenReminderTime,
	TokenScheduledTime,
	TokenExpireTime,
	TokenDayNum,
	TokenTemplateID,
	TokenTemplateName,
	TokenStudyID,
	TokenStudyPublicName,
	TokenStudyInternalName,
	TokenStudyContactMsg,
	TokenPID,
	TokenEnrollmentID,
	TokenSignupDate,
	TokenPrCompleted,
}

// MessageTokens are substituted into message bodies. <URL> is placed before
// the other tokens are expanded.
var MessageTokens = URLTokens

// Placeholder returns the literal text authors write in templates.
func (t Token) Placeholder() string {
	switch t {
	case TokenPingID:
		return "<PING_ID>"
	case TokenReminderTime:
		return "<REMINDER_TIME>"
	case TokenScheduledTime:
		return "<SCHEDULED_TIME>"
	case TokenExpireTime:
		return "<EXPIRE_TIME>"
	case TokenDayNum:
		return "<DAY_NUM>"
	case TokenTemplateID:
		return "<PING_TEMPLATE_ID>"
	case TokenTemplateName:
		return "<PING_TEMPLATE_NAME>"
	case TokenStudyID:
		return "<STUDY_ID>"
	case TokenStudyPublicName:
		return "<STUDY_PUBLIC_NAME>"
	case TokenStudyInternalName:
		return "<STUDY_INTERNAL_NAME>"
	case TokenStudyContactMsg:
		return "<STUDY_CONTACT_MSG>"
	case TokenPID:
		return "<PID>"
	case TokenEnrollmentID:
		return "<ENROLLMENT_ID>"
	case TokenSignupDate:
		return "<ENROLLMENT_SIGNUP_DATE>"
	case TokenPrCompleted:
		return "<PR_COMPLETED>"
	case TokenURL:
		return "<URL>"
	}
	panic("render: unknown token")
}

// Description is shown to template authors.
func (t Token) Description() string {
	switch t {
	case TokenPingID:
		return "The ID of the ping in the database."
	case TokenReminderTime:
		return "The time at which the reminder will be sent."
	case TokenScheduledTime:
		return "The time at which the ping is scheduled to be sent."
	case TokenExpireTime:
		return "The time at which the ping will expire."
	case TokenDayNum:
		return "The day number of the ping (Day 0 is date of participant signup)."
	case TokenTemplateID:
		return "The ID of the ping template in the database."
	case TokenTemplateName:
		return "The name of the ping template."
	case TokenStudyID:
		return "The ID of the study in the database."
	case TokenStudyPublicName:
		return "The public name of the study."
	case TokenStudyInternalName:
		return "The internal name of the study."
	case TokenStudyContactMsg:
		return "The contact message for the study."
	case TokenPID:
		return "The researcher-assigned participant ID."
	case TokenEnrollmentID:
		return "The ID of the enrollment in the database."
	case TokenSignupDate:
		return "The date the participant enrolled in the study."
	case TokenPrCompleted:
		return "The proportion of completed pings out of sent pings (i.e., excluding future pings)."
	case TokenURL:
		return "The link to the survey."
	}
	panic("render: unknown token")
}
