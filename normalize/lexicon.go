package normalize

// frenchStopWords holds diacritic-folded French function words. Entries are
// consulted when picking the head token of a multi-token word-list row.
var frenchStopWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"le", "la", "les", "l", "un", "une", "des", "de", "du", "d",
		"au", "aux", "a", "en", "y",
		"et", "ou", "mais", "donc", "or", "ni", "car",
		"ce", "cet", "cette", "ces", "ca", "cela", "ceci", "c",
		"se", "sa", "son", "ses", "s",
		"mon", "ma", "mes", "ton", "ta", "tes",
		"notre", "nos", "votre", "vos", "leur", "leurs",
		"je", "j", "tu", "t", "il", "elle", "on", "nous", "vous",
		"ils", "elles", "me", "m", "te", "lui", "eux", "moi", "toi", "soi",
		"ne", "n", "pas", "plus", "que", "qu", "qui", "quoi", "dont",
		"dans", "par", "pour", "sur", "sous", "vers", "chez",
		"avec", "sans", "entre", "si", "tres", "tout", "toute",
		"tous", "toutes", "quel", "quelle", "quels", "quelles",
	} {
		frenchStopWords[w] = struct{}{}
	}
}

// frenchLexicon maps surface forms of frequent French words to their lemma.
// Conjugated verb forms map to the infinitive; irregular plurals map to the
// singular. Lemmas are fixed points: they either do not appear as keys or
// map to themselves. The table intentionally skips forms whose lemma would
// collide with a distinct frequent word (e.g. "une" stays "une").
var frenchLexicon = map[string]string{
	// être
	"suis": "être", "es": "être", "est": "être", "sommes": "être",
	"êtes": "être", "sont": "être", "étais": "être", "était": "être",
	"étions": "être", "étiez": "être", "étaient": "être",
	"serai": "être", "sera": "être", "seront": "être", "été": "être",
	"être": "être",

	// avoir
	"ai": "avoir", "as": "avoir", "avons": "avoir", "avez": "avoir",
	"ont": "avoir", "avais": "avoir", "avait": "avoir", "avions": "avoir",
	"aviez": "avoir", "avaient": "avoir", "aura": "avoir", "auront": "avoir",
	"eu": "avoir", "avoir": "avoir",

	// aller
	"vais": "aller", "vas": "aller", "va": "aller", "allons": "aller",
	"allez": "aller", "vont": "aller", "allait": "aller", "allé": "aller",
	"ira": "aller", "iront": "aller", "aller": "aller",

	// faire
	"fais": "faire", "fait": "faire", "faisons": "faire", "faites": "faire",
	"font": "faire", "faisait": "faire", "fera": "faire", "feront": "faire",
	"faire": "faire",

	// dire
	"dis": "dire", "dit": "dire", "disons": "dire", "dites": "dire",
	"disent": "dire", "disait": "dire", "dira": "dire", "dire": "dire",

	// pouvoir
	"peux": "pouvoir", "peut": "pouvoir", "pouvons": "pouvoir",
	"pouvez": "pouvoir", "peuvent": "pouvoir", "pouvait": "pouvoir",
	"pourra": "pouvoir", "pu": "pouvoir", "pouvoir": "pouvoir",

	// vouloir
	"veux": "vouloir", "veut": "vouloir", "voulons": "vouloir",
	"voulez": "vouloir", "veulent": "vouloir", "voulait": "vouloir",
	"voudra": "vouloir", "voulu": "vouloir", "vouloir": "vouloir",

	// savoir
	"sais": "savoir", "sait": "savoir", "savons": "savoir",
	"savez": "savoir", "savent": "savoir", "savait": "savoir",
	"saura": "savoir", "su": "savoir", "savoir": "savoir",

	// venir
	"viens": "venir", "vient": "venir", "venons": "venir",
	"venez": "venir", "viennent": "venir", "venait": "venir",
	"viendra": "venir", "venu": "venir", "venir": "venir",

	// voir
	"vois": "voir", "voit": "voir", "voyons": "voir", "voyez": "voir",
	"voient": "voir", "voyait": "voir", "verra": "voir", "vu": "voir",
	"voir": "voir",

	// devoir
	"dois": "devoir", "doit": "devoir", "devons": "devoir",
	"devez": "devoir", "doivent": "devoir", "devait": "devoir",
	"devra": "devoir", "dû": "devoir", "devoir": "devoir",

	// prendre
	"prends": "prendre", "prend": "prendre", "prenons": "prendre",
	"prenez": "prendre", "prennent": "prendre", "prenait": "prendre",
	"prendra": "prendre", "pris": "prendre", "prendre": "prendre",

	// mettre
	"mets": "mettre", "met": "mettre", "mettons": "mettre",
	"mettez": "mettre", "mettent": "mettre", "mettait": "mettre",
	"mettra": "mettre", "mis": "mettre", "mettre": "mettre",

	// dormir
	"dors": "dormir", "dort": "dormir", "dormons": "dormir",
	"dormez": "dormir", "dorment": "dormir", "dormait": "dormir",
	"dormira": "dormir", "dormi": "dormir", "dormir": "dormir",

	// manger
	"mange": "manger", "manges": "manger", "mangeons": "manger",
	"mangez": "manger", "mangent": "manger", "mangeait": "manger",
	"mangera": "manger", "mangé": "manger", "manger": "manger",

	// boire
	"bois": "boire", "boit": "boire", "buvons": "boire", "buvez": "boire",
	"boivent": "boire", "buvait": "boire", "boira": "boire", "bu": "boire",
	"boire": "boire",

	// parler
	"parle": "parler", "parles": "parler", "parlons": "parler",
	"parlez": "parler", "parlent": "parler", "parlait": "parler",
	"parlera": "parler", "parlé": "parler", "parler": "parler",

	// aimer
	"aime": "aimer", "aimes": "aimer", "aimons": "aimer", "aimez": "aimer",
	"aiment": "aimer", "aimait": "aimer", "aimera": "aimer",
	"aimé": "aimer", "aimer": "aimer",

	// chanter
	"chante": "chanter", "chantes": "chanter", "chantons": "chanter",
	"chantez": "chanter", "chantent": "chanter", "chantait": "chanter",
	"chantera": "chanter", "chanté": "chanter", "chanter": "chanter",

	// jouer
	"joue": "jouer", "joues": "jouer", "jouons": "jouer", "jouez": "jouer",
	"jouent": "jouer", "jouait": "jouer", "jouera": "jouer",
	"joué": "jouer", "jouer": "jouer",

	// lire
	"lis": "lire", "lit": "lire", "lisons": "lire", "lisez": "lire",
	"lisent": "lire", "lisait": "lire", "lira": "lire", "lu": "lire",
	"lire": "lire",

	// écrire
	"écris": "écrire", "écrit": "écrire", "écrivons": "écrire",
	"écrivez": "écrire", "écrivent": "écrire", "écrivait": "écrire",
	"écrira": "écrire", "écrire": "écrire",

	// donner
	"donne": "donner", "donnes": "donner", "donnons": "donner",
	"donnez": "donner", "donnent": "donner", "donnait": "donner",
	"donnera": "donner", "donné": "donner", "donner": "donner",

	// trouver
	"trouve": "trouver", "trouves": "trouver", "trouvons": "trouver",
	"trouvez": "trouver", "trouvent": "trouver", "trouvait": "trouver",
	"trouvera": "trouver", "trouvé": "trouver", "trouver": "trouver",

	// regarder
	"regarde": "regarder", "regardes": "regarder", "regardons": "regarder",
	"regardez": "regarder", "regardent": "regarder", "regardait": "regarder",
	"regardera": "regarder", "regardé": "regarder", "regarder": "regarder",

	// marcher
	"marche": "marcher", "marches": "marcher", "marchons": "marcher",
	"marchez": "marcher", "marchent": "marcher", "marchait": "marcher",
	"marchera": "marcher", "marché": "marcher", "marcher": "marcher",

	// habiter
	"habite": "habiter", "habites": "habiter", "habitons": "habiter",
	"habitez": "habiter", "habitent": "habiter", "habitait": "habiter",
	"habitera": "habiter", "habité": "habiter", "habiter": "habiter",

	// irregular plurals
	"chevaux": "cheval", "journaux": "journal", "animaux": "animal",
	"travaux": "travail", "yeux": "œil", "eaux": "eau",
	"châteaux": "château", "oiseaux": "oiseau", "gâteaux": "gâteau",
	"bateaux": "bateau",

	// common regular plurals of frequent nouns
	"chats": "chat", "chiens": "chien", "maisons": "maison",
	"livres": "livre", "amis": "ami", "enfants": "enfant",
	"femmes": "femme", "hommes": "homme", "jours": "jour",
	"nuits": "nuit", "mots": "mot", "phrases": "phrase",
}
