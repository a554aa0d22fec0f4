package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dianabot/internal/notify"
	kit "dianabot/internal/transport"
	"dianabot/internal/transport/telegram/router"
	"dianabot/pkg/tgui"
)

func (a *App) registerCommands() {
	a.router.Register(
		router.Command{
			Name:        "start",
			Description: "saludo inicial",
			Handle: func(ctx context.Context, req *router.Request) error {
				text := tgui.JoinH("\n",
					tgui.B("Hola, soy Diana 💋"),
					tgui.Esc("Te avisaré de tus puntos, misiones y logros."),
					tgui.Esc("Escribe /ayuda para ver lo que puedo hacer."),
				)
				_, err := req.Adapter.SendText(ctx, req.Chat, text.String(), htmlOpts())
				return err
			},
		},
		router.Command{
			Name:        "puntos",
			Aliases:     []string{"points"},
			Description: "tus puntos y nivel actuales",
			Handle: func(ctx context.Context, req *router.Request) error {
				total := a.engag.Points(ctx, req.FromID)
				level := a.engag.Level(ctx, req.FromID)
				text := tgui.JoinH("\n",
					tgui.JoinH(" ", tgui.Esc("✨ Puntos:"), tgui.B(strconv.Itoa(total))),
					tgui.JoinH(" ", tgui.Esc("🆙 Nivel:"), tgui.B(strconv.Itoa(level))),
				)
				_, err := req.Adapter.SendText(ctx, req.Chat, text.String(), htmlOpts())
				return err
			},
		},
		router.Command{
			Name:        "resumen",
			Aliases:     []string{"flush"},
			Description: "envía ahora tus notificaciones pendientes",
			Handle: func(ctx context.Context, req *router.Request) error {
				if a.notif.PendingCount(req.FromID) == 0 {
					_, err := req.Adapter.SendText(ctx, req.Chat, "No tienes notificaciones pendientes.", nil)
					return err
				}
				a.notif.Flush(ctx, req.FromID)
				return nil
			},
		},
		router.Command{
			Name:        "silencio",
			Description: "descarta tus notificaciones pendientes",
			Handle: func(ctx context.Context, req *router.Request) error {
				n := a.notif.PendingCount(req.FromID)
				a.notif.Cancel(req.FromID)
				msg := "Nada pendiente que silenciar."
				if n > 0 {
					msg = fmt.Sprintf("Silenciadas %d notificaciones pendientes.", n)
				}
				_, err := req.Adapter.SendText(ctx, req.Chat, msg, nil)
				return err
			},
		},
		router.Command{
			Name:        "otorgar",
			Description: "otorga puntos a un usuario",
			Usage:       "/otorgar <user_id> <puntos> [motivo]",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) < 2 {
					_, err := req.Adapter.SendText(ctx, req.Chat, "Uso: /otorgar <user_id> <puntos> [motivo]", nil)
					return err
				}
				userID, err := strconv.ParseInt(req.Args[0], 10, 64)
				if err != nil {
					_, serr := req.Adapter.SendText(ctx, req.Chat, "user_id inválido", nil)
					return serr
				}
				amount, err := strconv.Atoi(req.Args[1])
				if err != nil || amount == 0 {
					_, serr := req.Adapter.SendText(ctx, req.Chat, "puntos inválidos", nil)
					return serr
				}
				source := strings.Join(req.Args[2:], " ")
				total, err := a.engag.AwardPoints(ctx, userID, amount, source)
				if err != nil {
					return err
				}
				_, err = req.Adapter.SendText(ctx, req.Chat,
					fmt.Sprintf("Hecho: %+d puntos para %d (total %d)", amount, userID, total), nil)
				return err
			},
		},
		router.Command{
			Name:        "logro",
			Description: "desbloquea un logro para un usuario",
			Usage:       "/logro <user_id> <nombre...>",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				if len(req.Args) < 2 {
					_, err := req.Adapter.SendText(ctx, req.Chat, "Uso: /logro <user_id> <nombre...>", nil)
					return err
				}
				userID, err := strconv.ParseInt(req.Args[0], 10, 64)
				if err != nil {
					_, serr := req.Adapter.SendText(ctx, req.Chat, "user_id inválido", nil)
					return serr
				}
				name := strings.Join(req.Args[1:], " ")
				if err := a.engag.UnlockAchievement(ctx, userID, "", name, ""); err != nil {
					return err
				}
				_, err = req.Adapter.SendText(ctx, req.Chat, "Logro registrado: "+name, nil)
				return err
			},
		},
		router.Command{
			Name:        "status",
			Description: "estado del bot",
			Access:      router.AccessOwnerOnly,
			Handle: func(ctx context.Context, req *router.Request) error {
				up := time.Since(a.startedAt).Round(time.Second)
				hist := a.notif.Snapshot()
				jobs := 0
				if a.sched != nil {
					jobs = len(a.sched.History())
				}
				parts := []tgui.H{
					tgui.B("Estado"),
					tgui.JoinH(" ", tgui.Esc("Uptime:"), tgui.Code(up.String())),
					tgui.JoinH(" ", tgui.Esc("Resúmenes enviados (recientes):"), tgui.Code(strconv.Itoa(len(hist)))),
					tgui.JoinH(" ", tgui.Esc("Jobs ejecutados (recientes):"), tgui.Code(strconv.Itoa(jobs))),
				}
				if last, ok := lastHistory(hist); ok {
					parts = append(parts, tgui.JoinH(" ",
						tgui.Esc("Último resumen:"),
						tgui.Code(last.At.Format("15:04:05")),
						tgui.Esc(fmt.Sprintf("(user %d)", last.UserID)),
					))
				}
				_, err := req.Adapter.SendText(ctx, req.Chat, tgui.JoinH("\n", parts...).String(), htmlOpts())
				return err
			},
		},
	)
}

func lastHistory(items []notify.HistoryItem) (notify.HistoryItem, bool) {
	if len(items) == 0 {
		return notify.HistoryItem{}, false
	}
	return items[len(items)-1], true
}

func htmlOpts() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
}
