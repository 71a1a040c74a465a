package web

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/modfin/mntletter/internal/lists"
	"github.com/modfin/mntletter/internal/store"
)

type page struct {
	Title   string
	Message string
	List    lists.ListInfo
	Result  any
	Body    string
	Mailing lists.MailingInfo
}

func (s *Server) join(c echo.Context) error {
	l, err := s.lists.List(c.Param("list"))
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "join.html", page{Title: l.Title, List: l})
}

func (s *Server) subscribe(c echo.Context) error {
	res, err := s.lists.RequestSubscription(c.Param("list"), c.QueryParam("email"))
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "subscribe.html", page{Title: res.Title, Result: res})
}

func (s *Server) confirm(c echo.Context) error {
	res, err := s.lists.ConfirmSubscription(c.Param("list"), c.QueryParam("email"), c.QueryParam("code"))
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "confirm.html", page{Title: res.Title, Result: res})
}

func (s *Server) unsubscribe(c echo.Context) error {
	res, err := s.lists.Unsubscribe(c.Param("list"), c.QueryParam("email"))
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "unsubscribe.html", page{Title: res.Title, Result: res})
}

func (s *Server) newMailing(c echo.Context) error {
	l, err := s.lists.List(c.Param("list"))
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "new_mailing.html", page{Title: "New mailing to " + l.Name, List: l})
}

func (s *Server) stageMailing(c echo.Context) error {
	body := c.FormValue("body")
	res, err := s.lists.StageMailing(c.Param("list"), c.FormValue("id"), c.FormValue("subject"), body)
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "stage.html", page{Title: "Preview of mailing #" + res.ID, Result: res, Body: body})
}

func (s *Server) sendMailing(c echo.Context) error {
	res, err := s.lists.SendMailing(c.Param("list"), c.Param("id"))
	if err != nil {
		return err
	}
	return c.Render(http.StatusOK, "send.html", page{Title: "Mailing #" + res.ID + " sent", Result: res})
}

func (s *Server) mailing(c echo.Context) error {
	info, err := s.lists.Mailing(c.Param("list"), c.Param("id"))
	if err != nil {
		return err
	}
	if c.Request().Header.Get(echo.HeaderAccept) == echo.MIMEApplicationJSON {
		return c.JSON(http.StatusOK, info)
	}
	return c.Render(http.StatusOK, "mailing.html", page{Title: "Mailing #" + info.ID, Mailing: info})
}

// statusOf maps an error from the list service to a status code and a message fit for the visitor.
func statusOf(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		if msg, ok := he.Message.(string); ok {
			return he.Code, msg
		}
		return he.Code, http.StatusText(he.Code)
	case errors.Is(err, lists.ErrListNotFound):
		return http.StatusNotFound, "Invalid list."
	case errors.Is(err, lists.ErrInvalidEmail):
		return http.StatusBadRequest, "Please provide a valid email address."
	case errors.Is(err, lists.ErrAlreadyConfirmed):
		return http.StatusConflict, "This email address is already subscribed to this list."
	case errors.Is(err, lists.ErrNotConfirmed):
		return http.StatusNotFound, "This email address is not subscribed to this list."
	case errors.Is(err, lists.ErrInvalidToken):
		return http.StatusBadRequest, "Please provide a valid email address and confirmation code."
	case errors.Is(err, lists.ErrTooManyRequests):
		return http.StatusTooManyRequests, "Too many subscription requests for this email address."
	case errors.Is(err, lists.ErrMailingNotFound):
		return http.StatusNotFound, "Mailing not found."
	case errors.Is(err, lists.ErrAlreadySent):
		return http.StatusConflict, "Mailing was already sent!"
	case errors.Is(err, lists.ErrInvalidMailing):
		return http.StatusBadRequest, "A mailing needs a subject and an id that can be used in a URL path as is."
	case errors.Is(err, lists.ErrMailingConflict):
		return http.StatusConflict, "This mailing id is already used by another list."
	case errors.Is(err, store.ErrPersistence):
		return http.StatusInternalServerError, "Your request could not be saved, please try again later."
	}
	return http.StatusInternalServerError, "Something went wrong."
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code, msg := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Request().URL.Path).Error("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.Render(code, "message.html", page{Title: http.StatusText(code), Message: msg})
	}
	if err != nil {
		s.log.WithError(err).Error("could not write error response")
	}
}
