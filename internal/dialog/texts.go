package dialog

import (
	"errors"

	"remindbot/internal/storage"
	"remindbot/internal/todo"
)

const (
	txtTaskMenu = "Выберите поля, которые хотите заполнить для вашей новой задачи. Поле \"Имя задачи\" - обязательное, " +
		"остальные поля - на ваше усмотрение. Нажмите \"Готово\", когда закончите заполнять необходимые вам поля. " +
		"Нажмите \"Отмена\", если вы передумали создавать задачу. Если хотите запланировать напоминание на основе " +
		"текущей задачи или задать срок исполнения для нее, нажмите \"Запланировать\""
	txtSchedMenu = "Выберите желаемые действия и отправьте мне сообщения с данными. Я подскажу вам, в каком формате их отправить. " +
		"Для того, чтобы запланировать задачу, обязательно нужно указать срок исполнения задачи (дату и время). " +
		"Остальные настройки указывать необязательно, но - на ваше усмотрение."
	txtUnitsMenu  = "В каких единицах будете указывать интервал повторения задачи?"
	txtBeforeMenu = "Задайте параметры напоминания: 1) За сколько минут до наступления срока выполнения задачи напомнить? " +
		"2) Сколько раз напомнить? 3) С каким интервалом напоминать? Нажмите \"Настроить по умолчанию\" для того, " +
		"чтобы напомнить о задаче за 15 минут до наступления срока исполнения один раз."

	txtAskName  = "Отправьте мне имя вашей задачи"
	txtAskDesc  = "Отправьте мне описание вашей задачи"
	txtAskTags  = "Отправьте мне теги через пробел для вашей задачи"
	txtAskDate  = "Отправьте мне дату и время, на которые вы планируете срок исполнения задачи, в формате \"дд-ММ-гггг-чч-мм\" (день, месяц, год, час, минута) без кавычек"
	txtAskValue = "Введите необходимое значение"

	txtNameRequired = "\"Имя\" - обязательное поле для любой задачи. Нельзя создать задачу без имени. Заполните, пожалуйста, это поле"
	txtBadDate      = "Неверный формат даты. Отправьте еще раз. Напоминаю формат: \"дд-ММ-гггг-чч-мм\" (день, месяц, год, час, минута) без кавычек. Например: 14-02-2033-09-00"
	txtDateRange    = "Введено некорректное значение даты-времени. Нельзя напомнить о задаче в прошлом. " +
		"Нет смысла напоминать о настоящем в ту же секунду. Да и больше 120 лет вы точно не проживете."
	txtBadNumber     = "Неверный формат числа. Введите целое положительное число!"
	txtRemindOverlap = "Оповещения о приближении запланированного события или задачи не могут быть позднее самого события или задачи"
	txtUnknownUnit   = "Неизвестная единица времени"
	txtRepeatRange   = "Слишком большой интервал повтора. Он не может быть больше 120 лет"
	txtReservedName  = "Имя задачи не может начинаться с \"remindBefore-\". Выберите, пожалуйста, другое имя"
	txtDefaultSet    = "Напоминание настроено по умолчанию!"
	txtRemindSet     = "Напоминание настроено!"

	txtCancelled     = "Ок, тогда - в следующий раз!"
	txtTaskSaved     = "Готово! Ваша задача создана и добавлена в ваш список!"
	txtTaskDegraded  = "Готово! Ваша задача создана и добавлена в ваш список! Однако, что-то пошло не так, и я не могу сохранить ее в базу данных. После моей перезагрузки я ничего не буду помнить... :("
	txtSchedSaved    = "Готово! Ваша задача создана, запланирована и добавлена в ваш список!"
	txtSchedDegraded = "Готово! Ваша задача создана, запланирована и добавлена в ваш список! Однако, что-то пошло не так, и я не могу сохранить ее в базу данных. После моей перезагрузки я ничего не буду помнить... :("

	txtNoTasks      = "Список ваших задач - пуст, т.к. вы еще не создали ни одной задачи"
	txtNoReminders  = "Список ваших напоминаний - пуст, т.к. вы еще не запланировали ни одного напоминания"
	txtTaskList     = "Список ваших текущих задач. Нажмите на любую из них, чтобы посмотреть описание задачи, завершить задачу или отменить задачу"
	txtReminderList = "Список ваших запланированных напоминаний. Нажмите на любое из них, чтобы посмотреть описание напоминания, завершить задачу, связанную с напоминанием, или отменить задачу и напоминание"
	txtListFailed   = "Не удалось получить список задач, попробуйте позже"
	txtStale        = "Список устарел или задача уже завершена. Запросите его заново: /listtask"
	txtActionFailed = "Что-то пошло не так, попробуйте позже"
	txtThanks       = "👌 Отлично! Всегда рад помочь!"
)

// Button labels.
const (
	lblName          = "Имя задачи"
	lblDesc          = "Описание"
	lblTags          = "Теги"
	lblDone          = "Готово"
	lblCancel        = "Отмена"
	lblSchedule      = "Запланировать"
	lblDeadline      = "Срок (дата и время) исполнения"
	lblRepeat        = "Задать период повторения"
	lblBefore        = "Напомнить о приближении срока"
	lblBeforeMinutes = "За сколько минут до?"
	lblBeforeTimes   = "Сколько раз?"
	lblBeforeEvery   = "С каким интервалом?"
	lblBeforeDefault = "Настроить по умолчанию"
	lblComplete      = "Завершить"
	lblDrop          = "Отменить"
	lblOK            = "Ок, спасибо!"
)

var unitLabels = []struct {
	unit  todo.Unit
	label string
}{
	{todo.Years, "Год"},
	{todo.Months, "Месяц"},
	{todo.Weeks, "Неделя"},
	{todo.Days, "День"},
	{todo.Hours, "Час"},
	{todo.Minutes, "Минута"},
}

// errText renders a domain error for the user. ok is false for anything
// that is not a user mistake.
func errText(err error) (string, bool) {
	switch {
	case errors.Is(err, todo.ErrBlankName):
		return txtNameRequired, true
	case errors.Is(err, todo.ErrDateFormat):
		return txtBadDate, true
	case errors.Is(err, todo.ErrDateRange):
		return txtDateRange, true
	case errors.Is(err, todo.ErrNotPositive):
		return txtBadNumber, true
	case errors.Is(err, todo.ErrRemindOverlap):
		return txtRemindOverlap, true
	case errors.Is(err, todo.ErrUnknownUnit):
		return txtUnknownUnit, true
	case errors.Is(err, todo.ErrRepeatRange):
		return txtRepeatRange, true
	case errors.Is(err, todo.ErrReservedName):
		return txtReservedName, true
	case errors.Is(err, storage.ErrNotFound):
		return txtStale, true
	}
	return "", false
}
