// Package dialog runs the button-driven conversations of the bot.
//
// A conversation is addressed by its command name, which doubles as the
// callback-data prefix of every button it renders ("newtask:name",
// "listtask:rem:2"). The Manager keeps one Session per (command, chat,
// user), decides which session an update belongs to and hands it to the
// command's Flow. A Flow is a transition function over opaque state
// tokens: it reads the session state and the event, mutates the session
// and returns the Reply to show.
//
// Free-text fields follow a two-phase pattern. Pressing the field's button
// moves the session to "<field>-expect" and the next text message from the
// same user in the same chat is taken as the value. Invalid numeric input
// re-prompts without changing the state.
package dialog
