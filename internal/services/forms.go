package services

// LoginForm is the submitted sign-in form.
type LoginForm struct {
	Identifier string `form:"identifier" label:"E-mail or Username" validate:"required"`
	Password   string `form:"password" label:"Password" validate:"required"`
	Remember   bool   `form:"remember"`
}

// RegisterForm is the submitted sign-up form.
type RegisterForm struct {
	FirstName       string `form:"first_name" label:"First Name" validate:"required,max=20"`
	LastName        string `form:"last_name" label:"Last Name" validate:"required,max=20"`
	Username        string `form:"username" label:"Username" validate:"required,alnumdash,max=25,unique_username"`
	Email           string `form:"email" label:"E-Mail" validate:"required,email,max=50,unique_email"`
	Password        string `form:"password" label:"Password" validate:"required,min=6,max=75"`
	ConfirmPassword string `form:"confirm_password" label:"Confirm Password" validate:"required,eqfield=Password"`
}

type ProfileForm struct {
	FirstName string `form:"first_name" label:"First Name" validate:"required,max=20"`
	LastName  string `form:"last_name" label:"Last Name" validate:"required,max=20"`
	Email     string `form:"email" label:"E-Mail" validate:"required,email,max=50,unique_email"`
}

type PasswordForm struct {
	CurrentPassword    string `form:"current_password" label:"Current Password" validate:"required,matches_current_password"`
	NewPassword        string `form:"new_password" label:"New Password" validate:"required,min=6,max=75"`
	ConfirmNewPassword string `form:"confirm_new_password" label:"Confirm New Password" validate:"required,eqfield=NewPassword"`
}

// ComposeForm is a new direct message addressed by username.
type ComposeForm struct {
	Recipient string `form:"message_recipient" label:"Recipient" validate:"required,max=25,valid_username,not_auth_username"`
	Subject   string `form:"message_subject" label:"Subject" validate:"required,max=255"`
	Body      string `form:"message_body" label:"Message" validate:"required,max=5000"`
}

type ReplyForm struct {
	Body string `form:"response" label:"Response" validate:"required,max=5000"`
}
