package tgui

import "errors"

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
// NOTE: This is the length of the full string: "prefix:action:payload".
const MaxCallbackDataLen = 64

// maxLabelRunes keeps long task names from blowing up the keyboard width.
const maxLabelRunes = 48

var ErrCallbackDataTooLong = errors.New("tgui: callback_data empty or too long")
