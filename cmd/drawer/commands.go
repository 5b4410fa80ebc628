package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cashdrawer/internal/drawer"
	"cashdrawer/internal/ledger"
)

const help = `Comandos:
  estado                              sesión, saldo y totales
  abrir <monto>                       abre la caja
  cerrar <monto> [notas]              cierra la caja con el monto contado
  mov <tipo> <monto> [increase|decrease] [motivo]
                                      tipos: IN OUT SALE RETURN ADJUSTMENT
  lista                               movimientos de la página actual
  filtro tipo <tipo|all>              filtra por tipo
  filtro buscar <texto>               busca en motivo y referencia
  filtro desde <AAAA-MM-DD> [hasta <AAAA-MM-DD>]
  filtro mios on|off                  sólo mis movimientos
  filtro limpiar
  pagina <n>
  refrescar
  salir`

var errUsage = errors.New("uso incorrecto, escribí 'ayuda'")

type terminal struct {
	d   *drawer.Drawer
	con *console
	loc *time.Location
}

// run executes one command line. It returns false on "salir".
func (t *terminal) run(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	var err error
	switch strings.ToLower(fields[0]) {
	case "salir", "exit", "quit":
		return false
	case "ayuda", "help", "?":
		t.con.printf("%s\n", help)
	case "estado":
		t.status()
	case "abrir":
		err = t.open(ctx, fields[1:])
	case "cerrar":
		err = t.close(ctx, fields[1:])
	case "mov":
		err = t.movement(ctx, fields[1:])
	case "lista":
		t.list()
	case "filtro":
		err = t.filter(fields[1:])
	case "pagina":
		err = t.page(fields[1:])
	case "refrescar":
		if err = t.d.Refresh(ctx); err == nil {
			t.status()
		}
	default:
		err = errUsage
	}
	if errors.Is(err, errUsage) {
		t.con.printf("%v\n", err)
	} else if err != nil {
		t.con.Notify(drawer.UserMessage(err), drawer.SeverityError)
	}
	return true
}

func (t *terminal) status() {
	st := t.d.State()
	if st.Session == nil {
		t.con.printf("No hay caja abierta.\n")
		return
	}
	s := st.Session
	bal, ok := st.Balance()
	t.con.printf("Sesión %s abierta %s por %s\n", s.ID, s.OpenedAt.In(t.loc).Format("02/01 15:04"), s.OpenedBy)
	t.con.printf("  inicial %s  ingresos %s  ventas %s  egresos %s  devoluciones %s  ajustes %s\n",
		s.OpeningAmount.StringFixed(2), st.Summary.In.StringFixed(2), st.Summary.Sale.StringFixed(2),
		st.Summary.Out.StringFixed(2), st.Summary.Return.StringFixed(2), st.Summary.Adjustment.StringFixed(2))
	if !ok {
		t.con.printf("  saldo sin confirmar, usá 'refrescar'\n")
		return
	}
	t.con.printf("  saldo %s (%d movimientos)\n", bal.StringFixed(2), st.Summary.Count)
}

func (t *terminal) open(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	amount, err := ledger.ParseAmount(args[0])
	if err != nil {
		return err
	}
	t.d.OpenSession(ctx, drawer.OpenInput{OpeningAmount: amount})
	return nil
}

func (t *terminal) close(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errUsage
	}
	amount, err := ledger.ParseAmount(args[0])
	if err != nil {
		return err
	}
	in := drawer.CloseInput{ClosingAmount: amount}
	if len(args) > 1 {
		notes := strings.Join(args[1:], " ")
		in.Notes = &notes
	}
	out := t.d.CloseSession(ctx, in)
	if a := out.Assessment; a != nil && out.OK() {
		t.con.printf("  esperado %s  declarado %s  diferencia %s\n",
			a.Expected.StringFixed(2), a.Closing.StringFixed(2), a.Discrepancy.StringFixed(2))
	}
	return nil
}

func (t *terminal) movement(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	typ, err := ledger.ParseMovementType(args[0])
	if err != nil {
		return err
	}
	amount, err := ledger.ParseAmount(args[1])
	if err != nil {
		return err
	}
	rest := args[2:]
	in := drawer.MovementInput{Type: typ, Amount: amount}
	if typ == ledger.MovementAdjustment && len(rest) > 0 {
		if dir, err := ledger.ParseDirection(rest[0]); err == nil && dir != "" {
			in.Direction = dir
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		reason := strings.Join(rest, " ")
		in.Reason = &reason
	}
	t.d.RegisterMovement(ctx, in)
	return nil
}

func (t *terminal) list() {
	st := t.d.State()
	if st.Session == nil {
		t.con.printf("No hay caja abierta.\n")
		return
	}
	page := st.Visible()
	for _, m := range page.Items {
		reason := ""
		if m.Reason != nil {
			reason = *m.Reason
		}
		t.con.printf("  %s  %-10s %12s  %s\n", m.CreatedAt.In(t.loc).Format("02/01 15:04"), m.Type,
			m.Type.Contribution(m.Amount).StringFixed(2), reason)
	}
	t.con.printf("Página %d de %d (%d movimientos)\n", page.Page, max(page.TotalPages, 1), page.Total)
}

func (t *terminal) filter(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	f := t.d.State().Filter
	switch args[0] {
	case "tipo":
		if len(args) != 2 {
			return errUsage
		}
		if strings.EqualFold(args[1], "all") {
			f = f.WithType("")
			break
		}
		typ, err := ledger.ParseMovementType(args[1])
		if err != nil {
			return err
		}
		f = f.WithType(typ)
	case "buscar":
		f = f.WithSearch(strings.Join(args[1:], " "))
	case "desde":
		from, to, err := t.dateRange(args[1:])
		if err != nil {
			return err
		}
		f = f.WithDateRange(from, to, to != nil)
	case "mios":
		if len(args) != 2 {
			return errUsage
		}
		f = f.WithCreatedByMe(args[1] == "on", "")
	case "limpiar":
		f = ledger.NewFilterState(f.PageSize)
	default:
		return errUsage
	}
	t.d.SetFilter(f)
	t.list()
	return nil
}

// dateRange parses "<from> [hasta <to>]" as local calendar days.
func (t *terminal) dateRange(args []string) (from, to *time.Time, err error) {
	if len(args) != 1 && !(len(args) == 3 && args[1] == "hasta") {
		return nil, nil, errUsage
	}
	f, err := time.ParseInLocation(time.DateOnly, args[0], t.loc)
	if err != nil {
		return nil, nil, errUsage
	}
	from = &f
	if len(args) == 3 {
		tt, err := time.ParseInLocation(time.DateOnly, args[2], t.loc)
		if err != nil {
			return nil, nil, errUsage
		}
		to = &tt
	}
	return from, to, nil
}

func (t *terminal) page(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return fmt.Errorf("%w: página inválida", errUsage)
	}
	t.d.SetFilter(t.d.State().Filter.WithPage(n))
	t.list()
	return nil
}
